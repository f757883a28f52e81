package models

import "time"

// Conversation is an active exclusive pairing between a client and an
// operator. Rows are never updated in place: a pairing change is always
// a delete followed by an insert.
type Conversation struct {
	ID         int64     `db:"id" json:"id"`
	ClientID   int64     `db:"client_id" json:"client_id"`
	OperatorID int64     `db:"operator_id" json:"operator_id"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
}
