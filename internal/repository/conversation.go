package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/kolayne/anonymous-helpline-chatbot/internal/models"
)

// ConversationRepository is the conversation registry: the set of active
// client-operator pairings. It is the only writer of conversation rows and
// enforces the exclusivity rules on every mutation.
type ConversationRepository interface {
	Start(ctx context.Context, clientTgID, operatorTgID int64) (*models.Conversation, error)
	StartWithRandomOperator(ctx context.Context, clientTgID int64) (*models.Conversation, *models.User, error)
	EndByClient(ctx context.Context, clientTgID int64) error
	EndByOperator(ctx context.Context, operatorTgID int64) error
	FindCounterpart(ctx context.Context, tgID int64) (*models.User, error)
	GetAllConversations(ctx context.Context) ([]*models.Conversation, error)
}

type conversationRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewConversationRepository(db *sqlx.DB, logger *zap.Logger) ConversationRepository {
	return &conversationRepository{db: db, logger: logger}
}

// pairingState is a snapshot of everything the pairing rules look at, read
// inside the same transaction that inserts the row.
type pairingState struct {
	ClientPaired    bool `db:"client_paired"`
	ClientOperating bool `db:"client_operating"`
	OperatorPaired  bool `db:"operator_paired"`
	OperatorCrying  bool `db:"operator_crying"`
}

// checkPairingInvariants evaluates the pairing rules against a snapshot and
// names the first violated one. A nil result means the pairing is allowed.
func checkPairingInvariants(client, operator *models.User, state pairingState) *InvariantViolationError {
	if client.LocalID == operator.LocalID {
		return &InvariantViolationError{Constraint: ConstraintSelfPairing}
	}
	if !operator.IsOperator {
		return &InvariantViolationError{Constraint: ConstraintNotAnOperator}
	}
	if state.ClientPaired {
		return &InvariantViolationError{Constraint: ConstraintClientPaired}
	}
	if state.OperatorCrying {
		return &InvariantViolationError{Constraint: ConstraintOperatorCrying}
	}
	if state.OperatorPaired {
		return &InvariantViolationError{Constraint: ConstraintOperatorPaired}
	}
	if client.IsOperator && state.ClientOperating {
		return &InvariantViolationError{Constraint: ConstraintClientOperating}
	}
	return nil
}

// Start pairs the client with the given operator. All precondition reads and
// the insert happen in one serializable transaction, so two racing calls on
// the same client or operator resolve to exactly one winner; the loser gets
// the named InvariantViolationError (or ErrBusy after the retry budget) and
// no partial row.
func (r *conversationRepository) Start(ctx context.Context, clientTgID, operatorTgID int64) (*models.Conversation, error) {
	var conv models.Conversation
	err := inSerializableTx(ctx, r.db, r.logger, func(tx *sqlx.Tx) error {
		client, err := getUserTx(ctx, tx, clientTgID)
		if err != nil {
			return err
		}
		operator, err := getUserTx(ctx, tx, operatorTgID)
		if err != nil {
			return err
		}

		state, err := loadPairingState(ctx, tx, client.LocalID, operator.LocalID)
		if err != nil {
			return err
		}
		if violation := checkPairingInvariants(client, operator, state); violation != nil {
			return violation
		}

		return insertConversation(ctx, tx, client.LocalID, operator.LocalID, &conv)
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// StartWithRandomOperator pairs the client with a uniformly random eligible
// operator: flagged, not currently operating, not currently a client, and
// not the client themself. Returns the chosen operator alongside the new
// conversation, or ErrNoOperatorAvailable when nobody qualifies.
func (r *conversationRepository) StartWithRandomOperator(ctx context.Context, clientTgID int64) (*models.Conversation, *models.User, error) {
	var (
		conv     models.Conversation
		operator models.User
	)
	err := inSerializableTx(ctx, r.db, r.logger, func(tx *sqlx.Tx) error {
		client, err := getUserTx(ctx, tx, clientTgID)
		if err != nil {
			return err
		}

		state, err := loadPairingState(ctx, tx, client.LocalID, client.LocalID)
		if err != nil {
			return err
		}
		if state.ClientPaired {
			return &InvariantViolationError{Constraint: ConstraintClientPaired}
		}
		if client.IsOperator && state.ClientOperating {
			return &InvariantViolationError{Constraint: ConstraintClientOperating}
		}

		query := `SELECT u.local_id, u.tg_id, u.is_operator, u.is_admin, u.created_at
		          FROM users u
		          WHERE u.is_operator
		            AND u.local_id <> $1
		            AND NOT EXISTS (SELECT 1 FROM conversations c WHERE c.operator_id = u.local_id)
		            AND NOT EXISTS (SELECT 1 FROM conversations c WHERE c.client_id = u.local_id)
		          ORDER BY random()
		          LIMIT 1`
		err = tx.GetContext(ctx, &operator, query, client.LocalID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoOperatorAvailable
		}
		if err != nil {
			return err
		}

		return insertConversation(ctx, tx, client.LocalID, operator.LocalID, &conv)
	})
	if err != nil {
		return nil, nil, err
	}
	return &conv, &operator, nil
}

// EndByClient deletes the conversation in which the user is the client.
// A repeated call after a confirmed deletion simply reports ErrNotFound.
func (r *conversationRepository) EndByClient(ctx context.Context, clientTgID int64) error {
	query := `DELETE FROM conversations c
	          USING users u
	          WHERE c.client_id = u.local_id AND u.tg_id = $1`
	return r.deleteConversation(ctx, query, clientTgID)
}

// EndByOperator deletes the conversation in which the user is the operator.
func (r *conversationRepository) EndByOperator(ctx context.Context, operatorTgID int64) error {
	query := `DELETE FROM conversations c
	          USING users u
	          WHERE c.operator_id = u.local_id AND u.tg_id = $1`
	return r.deleteConversation(ctx, query, operatorTgID)
}

func (r *conversationRepository) deleteConversation(ctx context.Context, query string, tgID int64) error {
	res, err := r.db.ExecContext(ctx, query, tgID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindCounterpart returns the paired partner of the user, whichever side of
// the conversation they are on, or nil when the user is not paired.
func (r *conversationRepository) FindCounterpart(ctx context.Context, tgID int64) (*models.User, error) {
	var partner models.User
	query := `SELECT p.local_id, p.tg_id, p.is_operator, p.is_admin, p.created_at
	          FROM conversations c
	          JOIN users me ON me.local_id IN (c.client_id, c.operator_id)
	          JOIN users p ON p.local_id = CASE
	              WHEN me.local_id = c.client_id THEN c.operator_id
	              ELSE c.client_id
	          END
	          WHERE me.tg_id = $1`
	err := r.db.GetContext(ctx, &partner, query, tgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not paired
		}
		return nil, err
	}
	return &partner, nil
}

func (r *conversationRepository) GetAllConversations(ctx context.Context) ([]*models.Conversation, error) {
	var convs []*models.Conversation
	query := `SELECT id, client_id, operator_id, started_at FROM conversations ORDER BY started_at`
	err := r.db.SelectContext(ctx, &convs, query)
	if err != nil {
		return nil, err
	}
	return convs, nil
}

func getUserTx(ctx context.Context, tx *sqlx.Tx, tgID int64) (*models.User, error) {
	var user models.User
	query := `SELECT local_id, tg_id, is_operator, is_admin, created_at FROM users WHERE tg_id = $1`
	err := tx.GetContext(ctx, &user, query, tgID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func loadPairingState(ctx context.Context, tx *sqlx.Tx, clientID, operatorID int64) (pairingState, error) {
	var state pairingState
	query := `SELECT
	              EXISTS (SELECT 1 FROM conversations WHERE client_id = $1)   AS client_paired,
	              EXISTS (SELECT 1 FROM conversations WHERE operator_id = $1) AS client_operating,
	              EXISTS (SELECT 1 FROM conversations WHERE operator_id = $2) AS operator_paired,
	              EXISTS (SELECT 1 FROM conversations WHERE client_id = $2)   AS operator_crying`
	err := tx.GetContext(ctx, &state, query, clientID, operatorID)
	return state, err
}

func insertConversation(ctx context.Context, tx *sqlx.Tx, clientID, operatorID int64, conv *models.Conversation) error {
	query := `INSERT INTO conversations (client_id, operator_id)
	          VALUES ($1, $2)
	          RETURNING id, client_id, operator_id, started_at`
	err := tx.QueryRowxContext(ctx, query, clientID, operatorID).StructScan(conv)
	if err != nil {
		return mapConversationInsertError(err)
	}
	return nil
}
