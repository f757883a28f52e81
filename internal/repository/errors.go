package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a referenced user or conversation does
	// not exist.
	ErrNotFound = errors.New("record not found")
	// ErrBusy is returned after a mutating operation exhausted its retry
	// budget on transaction serialization conflicts. Safe to retry.
	ErrBusy = errors.New("transient transaction conflict, retry later")
	// ErrNoOperatorAvailable is returned by StartWithRandomOperator when no
	// operator is currently eligible to take a client.
	ErrNoOperatorAvailable = errors.New("no operator is available")
)

// Constraint names a pairing rule that a conversation mutation would break.
type Constraint string

const (
	// ConstraintClientPaired: the client already has an active conversation.
	ConstraintClientPaired Constraint = "client already paired"
	// ConstraintOperatorPaired: the operator already serves another client.
	ConstraintOperatorPaired Constraint = "operator already paired"
	// ConstraintNotAnOperator: the proposed operator is not flagged as one.
	ConstraintNotAnOperator Constraint = "not an operator"
	// ConstraintOperatorCrying: the proposed operator is currently a client
	// in another conversation.
	ConstraintOperatorCrying Constraint = "operator is a client elsewhere"
	// ConstraintClientOperating: the client is an operator who is currently
	// serving a client of their own.
	ConstraintClientOperating Constraint = "client is operating elsewhere"
	// ConstraintSelfPairing: client and operator are the same user.
	ConstraintSelfPairing Constraint = "client and operator are the same user"
)

// InvariantViolationError reports which pairing rule rejected the mutation.
// The store is left untouched.
type InvariantViolationError struct {
	Constraint Constraint
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("pairing invariant violated: %s", e.Constraint)
}

// ForeignKeyViolationError is returned when a reflection references a chat
// id that does not belong to any known user.
type ForeignKeyViolationError struct {
	ChatID int64
}

func (e *ForeignKeyViolationError) Error() string {
	return fmt.Sprintf("chat id %d does not reference a known user", e.ChatID)
}

// ConflictingStateError is returned when a role-flag change would invalidate
// an active conversation. The flag is left unchanged.
type ConflictingStateError struct {
	Reason string
}

func (e *ConflictingStateError) Error() string {
	return fmt.Sprintf("role change conflicts with active conversations: %s", e.Reason)
}

// PostgreSQL error codes we branch on. The unique indexes and the check
// constraint are the database-side backstop for the application-level
// predicate evaluation; a racing insert that slips past the reads fails
// here instead.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isSerializationFailure(err error) bool {
	code := pqCode(err)
	return code == pgSerializationFailure || code == pgDeadlockDetected
}

// mapConversationInsertError translates database-side constraint failures on
// the conversations table into the named invariant they enforce.
func mapConversationInsertError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case pgUniqueViolation:
		if pqErr.Constraint == "conversations_operator_id_key" {
			return &InvariantViolationError{Constraint: ConstraintOperatorPaired}
		}
		return &InvariantViolationError{Constraint: ConstraintClientPaired}
	case pgCheckViolation:
		return &InvariantViolationError{Constraint: ConstraintSelfPairing}
	case pgForeignKeyViolation:
		return ErrNotFound
	}
	return err
}
