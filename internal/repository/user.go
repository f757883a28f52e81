package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/kolayne/anonymous-helpline-chatbot/internal/models"
)

// UserRepository is the user directory: every participant the helpline has
// ever seen, with their role flags. Users are created on first contact and
// never deleted.
type UserRepository interface {
	RegisterOrGet(ctx context.Context, tgID int64) (*models.User, error)
	GetByTgID(ctx context.Context, tgID int64) (*models.User, error)
	SetOperator(ctx context.Context, tgID int64, value bool) error
	SetAdmin(ctx context.Context, tgID int64, value bool) error
	IsOperator(ctx context.Context, tgID int64) (bool, error)
	IsOperating(ctx context.Context, tgID int64) (bool, error)
	IsCrying(ctx context.Context, tgID int64) (bool, error)
	GetAllUsers(ctx context.Context) ([]*models.User, error)
}

type userRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewUserRepository(db *sqlx.DB, logger *zap.Logger) UserRepository {
	return &userRepository{db: db, logger: logger}
}

// RegisterOrGet creates the user with default flags on first contact and is
// a no-op on every later call. The DO UPDATE arm makes RETURNING yield the
// existing row instead of nothing.
func (r *userRepository) RegisterOrGet(ctx context.Context, tgID int64) (*models.User, error) {
	var user models.User
	query := `INSERT INTO users (tg_id) VALUES ($1)
	          ON CONFLICT (tg_id) DO UPDATE SET tg_id = EXCLUDED.tg_id
	          RETURNING local_id, tg_id, is_operator, is_admin, created_at`
	err := r.db.QueryRowxContext(ctx, query, tgID).StructScan(&user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByTgID(ctx context.Context, tgID int64) (*models.User, error) {
	var user models.User
	query := `SELECT local_id, tg_id, is_operator, is_admin, created_at FROM users WHERE tg_id = $1`
	err := r.db.GetContext(ctx, &user, query, tgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, err
	}
	return &user, nil
}

// SetOperator toggles the operator flag. Demoting a user who is currently
// serving a client would leave a conversation whose operator is not flagged,
// so the check and the update run in one serializable transaction and the
// change fails with ConflictingStateError instead.
func (r *userRepository) SetOperator(ctx context.Context, tgID int64, value bool) error {
	return inSerializableTx(ctx, r.db, r.logger, func(tx *sqlx.Tx) error {
		var localID int64
		err := tx.GetContext(ctx, &localID, `SELECT local_id FROM users WHERE tg_id = $1`, tgID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if !value {
			var operating bool
			err = tx.GetContext(ctx, &operating,
				`SELECT EXISTS (SELECT 1 FROM conversations WHERE operator_id = $1)`, localID)
			if err != nil {
				return err
			}
			if operating {
				return &ConflictingStateError{Reason: "operator is serving an active conversation"}
			}
		}

		_, err = tx.ExecContext(ctx, `UPDATE users SET is_operator = $1 WHERE local_id = $2`, value, localID)
		return err
	})
}

// SetAdmin toggles the admin flag. No conversation invariant mentions the
// admin flag, so a plain update is enough.
func (r *userRepository) SetAdmin(ctx context.Context, tgID int64, value bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_admin = $1 WHERE tg_id = $2`, value, tgID)
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

func (r *userRepository) IsOperator(ctx context.Context, tgID int64) (bool, error) {
	var flagged bool
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE tg_id = $1 AND is_operator)`
	err := r.db.GetContext(ctx, &flagged, query, tgID)
	return flagged, err
}

// IsOperating reports whether the user currently serves a client.
func (r *userRepository) IsOperating(ctx context.Context, tgID int64) (bool, error) {
	var operating bool
	query := `SELECT EXISTS (
	              SELECT 1 FROM conversations c
	              JOIN users u ON u.local_id = c.operator_id
	              WHERE u.tg_id = $1)`
	err := r.db.GetContext(ctx, &operating, query, tgID)
	return operating, err
}

// IsCrying reports whether the user currently is a client in a conversation.
func (r *userRepository) IsCrying(ctx context.Context, tgID int64) (bool, error) {
	var crying bool
	query := `SELECT EXISTS (
	              SELECT 1 FROM conversations c
	              JOIN users u ON u.local_id = c.client_id
	              WHERE u.tg_id = $1)`
	err := r.db.GetContext(ctx, &crying, query, tgID)
	return crying, err
}

func (r *userRepository) GetAllUsers(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	query := `SELECT local_id, tg_id, is_operator, is_admin, created_at FROM users ORDER BY local_id`
	err := r.db.SelectContext(ctx, &users, query)
	if err != nil {
		return nil, err
	}
	return users, nil
}
