package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolayne/anonymous-helpline-chatbot/internal/models"
)

func TestIsSerializationFailure(t *testing.T) {
	assert.True(t, isSerializationFailure(&pq.Error{Code: "40001"}))
	assert.True(t, isSerializationFailure(&pq.Error{Code: "40P01"}))
	assert.True(t, isSerializationFailure(fmt.Errorf("commit: %w", &pq.Error{Code: "40001"})))
	assert.False(t, isSerializationFailure(&pq.Error{Code: "23505"}))
	assert.False(t, isSerializationFailure(errors.New("plain error")))
	assert.False(t, isSerializationFailure(nil))
}

func TestMapConversationInsertError(t *testing.T) {
	t.Run("unique violation on client", func(t *testing.T) {
		err := mapConversationInsertError(&pq.Error{Code: "23505", Constraint: "conversations_client_id_key"})
		var violation *InvariantViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, ConstraintClientPaired, violation.Constraint)
	})

	t.Run("unique violation on operator", func(t *testing.T) {
		err := mapConversationInsertError(&pq.Error{Code: "23505", Constraint: "conversations_operator_id_key"})
		var violation *InvariantViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, ConstraintOperatorPaired, violation.Constraint)
	})

	t.Run("check violation is self pairing", func(t *testing.T) {
		err := mapConversationInsertError(&pq.Error{Code: "23514", Constraint: "conversations_no_self_pairing"})
		var violation *InvariantViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, ConstraintSelfPairing, violation.Constraint)
	})

	t.Run("foreign key is a missing user", func(t *testing.T) {
		err := mapConversationInsertError(&pq.Error{Code: "23503"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		plain := errors.New("connection reset")
		assert.Equal(t, plain, mapConversationInsertError(plain))
	})
}

func TestMapReflectionInsertError(t *testing.T) {
	reflection := &models.ReflectedMessage{SenderChatID: 100, ReceiverChatID: 200}

	t.Run("receiver side", func(t *testing.T) {
		err := mapReflectionInsertError(
			&pq.Error{Code: "23503", Constraint: "reflected_messages_receiver_chat_id_fkey"}, reflection)
		var fkErr *ForeignKeyViolationError
		require.ErrorAs(t, err, &fkErr)
		assert.EqualValues(t, 200, fkErr.ChatID)
	})

	t.Run("sender side", func(t *testing.T) {
		err := mapReflectionInsertError(
			&pq.Error{Code: "23503", Constraint: "reflected_messages_sender_chat_id_fkey"}, reflection)
		var fkErr *ForeignKeyViolationError
		require.ErrorAs(t, err, &fkErr)
		assert.EqualValues(t, 100, fkErr.ChatID)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		plain := errors.New("connection reset")
		assert.Equal(t, plain, mapReflectionInsertError(plain, reflection))
	})
}
