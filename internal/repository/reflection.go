package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kolayne/anonymous-helpline-chatbot/internal/models"
)

// ReflectionRepository is the reflection log: an append-only record of which
// mirrored message corresponds to which original. It is consulted when a
// participant replies to, edits or deletes a mirrored copy, so the action
// can be re-applied to the original.
type ReflectionRepository interface {
	Record(ctx context.Context, reflection *models.ReflectedMessage) error
	ResolveOriginal(ctx context.Context, receiverChatID, receiverMessageID int64) (*models.MessageRef, error)
	ResolveMirror(senderChatID, senderMessageID int64) *MirrorCursor
}

type reflectionRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewReflectionRepository(db *sqlx.DB, logger *zap.Logger) ReflectionRepository {
	return &reflectionRepository{db: db, logger: logger}
}

// Record appends one mirrored-delivery row. Callers invoke it exactly once
// per successful mirror send, after the send: the reflection log must never
// hold row locks across network I/O, and a failed send simply means no call.
func (r *reflectionRepository) Record(ctx context.Context, reflection *models.ReflectedMessage) error {
	query := `INSERT INTO reflected_messages (sender_chat_id, sender_message_id, receiver_chat_id, receiver_message_id)
	          VALUES ($1, $2, $3, $4)
	          RETURNING id, mirrored_at`
	err := r.db.QueryRowxContext(ctx, query,
		reflection.SenderChatID, reflection.SenderMessageID,
		reflection.ReceiverChatID, reflection.ReceiverMessageID,
	).StructScan(reflection)
	if err != nil {
		return mapReflectionInsertError(err, reflection)
	}
	return nil
}

// mapReflectionInsertError turns a foreign-key failure into a
// ForeignKeyViolationError naming the offending chat id.
func mapReflectionInsertError(err error, reflection *models.ReflectedMessage) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != pgForeignKeyViolation {
		return err
	}
	if strings.Contains(pqErr.Constraint, "receiver") {
		return &ForeignKeyViolationError{ChatID: reflection.ReceiverChatID}
	}
	return &ForeignKeyViolationError{ChatID: reflection.SenderChatID}
}

// ResolveOriginal finds the original message that was mirrored into the
// receiver's chat as the given message. When several rows match (which
// correct single-write usage never produces), the most recently inserted
// wins. Returns nil when the message is not a known mirror.
func (r *reflectionRepository) ResolveOriginal(ctx context.Context, receiverChatID, receiverMessageID int64) (*models.MessageRef, error) {
	var ref models.MessageRef
	query := `SELECT sender_chat_id AS chat_id, sender_message_id AS message_id
	          FROM reflected_messages
	          WHERE receiver_chat_id = $1 AND receiver_message_id = $2
	          ORDER BY id DESC
	          LIMIT 1`
	err := r.db.GetContext(ctx, &ref, query, receiverChatID, receiverMessageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not a mirrored message
		}
		return nil, err
	}
	return &ref, nil
}

// ResolveMirror returns a cursor over every mirrored copy of the given
// original, in insertion order. One original can have several copies when
// it was mirrored to multiple recipients.
func (r *reflectionRepository) ResolveMirror(senderChatID, senderMessageID int64) *MirrorCursor {
	return &MirrorCursor{
		db:              r.db,
		senderChatID:    senderChatID,
		senderMessageID: senderMessageID,
	}
}

const mirrorCursorBatchSize = 64

// MirrorCursor walks the mirrored copies of one original message lazily:
// rows are fetched in keyset-paginated batches, so the cursor holds no open
// statement between Next calls and survives arbitrarily slow consumers.
// Reset rewinds it to the beginning.
type MirrorCursor struct {
	db              *sqlx.DB
	senderChatID    int64
	senderMessageID int64

	lastID int64
	buf    []mirrorRow
	pos    int
	done   bool
}

type mirrorRow struct {
	ID        int64 `db:"id"`
	ChatID    int64 `db:"receiver_chat_id"`
	MessageID int64 `db:"receiver_message_id"`
}

// Next returns the next mirrored copy, or nil when the sequence is
// exhausted.
func (c *MirrorCursor) Next(ctx context.Context) (*models.MessageRef, error) {
	if c.pos >= len(c.buf) {
		if c.done {
			return nil, nil
		}
		if err := c.fetch(ctx); err != nil {
			return nil, err
		}
		if len(c.buf) == 0 {
			return nil, nil
		}
	}
	row := c.buf[c.pos]
	c.pos++
	c.lastID = row.ID
	return &models.MessageRef{ChatID: row.ChatID, MessageID: row.MessageID}, nil
}

// Reset rewinds the cursor; the next Next call re-reads from the start.
func (c *MirrorCursor) Reset() {
	c.lastID = 0
	c.buf = nil
	c.pos = 0
	c.done = false
}

func (c *MirrorCursor) fetch(ctx context.Context) error {
	query := `SELECT id, receiver_chat_id, receiver_message_id
	          FROM reflected_messages
	          WHERE sender_chat_id = $1 AND sender_message_id = $2 AND id > $3
	          ORDER BY id
	          LIMIT $4`
	c.buf = c.buf[:0]
	c.pos = 0
	err := c.db.SelectContext(ctx, &c.buf, query, c.senderChatID, c.senderMessageID, c.lastID, mirrorCursorBatchSize)
	if err != nil {
		return err
	}
	if len(c.buf) < mirrorCursorBatchSize {
		c.done = true
	}
	return nil
}
