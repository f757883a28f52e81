package telegram_bot

import (
	"errors"

	"github.com/kolayne/anonymous-helpline-chatbot/internal/repository"
)

// User-facing texts, in Russian as the helpline operates.
const (
	replyGreeting = "Привет. Отправьте /start_conversation, чтобы начать беседу с оператором, " +
		"и /end_conversation, чтобы завершить её"
	replyConversationStarted   = "Началась беседа с оператором. Отправьте сообщение, и оператор его увидит"
	replyOperatorNotified      = "К вам обратился клиент. Отправьте сообщение, и он его увидит"
	replyConversationEnded     = "Беседа с оператором прекратилась"
	replyCounterpartLeft       = "Собеседник завершил беседу"
	replyNotInConversation     = "Чтобы начать общаться с оператором, нужно написать /start_conversation"
	replyAlreadyInConversation = "Беседа уже идёт. Завершите её командой /end_conversation, прежде чем начинать новую"
	replyOperatorIsBusy        = "Нельзя обращаться за помощью, пока вы сами ведёте беседу как оператор"
	replyNoOperators           = "Сейчас нет свободных операторов. Попробуйте позже"
	replyStorageBusy           = "Сервис перегружен. Попробуйте ещё раз"
	replyMediaGroup            = "Отправка групп медиа не поддерживается. Они будут отправлены как отдельные сообщения"
	replyUnsupportedType       = "Сообщения этого типа не поддерживаются"
	replyInternalError         = "Произошла ошибка. Попробуйте ещё раз позже"
)

// startConversationReply maps the registry's verdict on a pairing attempt to
// the text shown to the client.
func startConversationReply(err error) string {
	if err == nil {
		return replyConversationStarted
	}

	var violation *repository.InvariantViolationError
	switch {
	case errors.As(err, &violation):
		switch violation.Constraint {
		case repository.ConstraintClientPaired:
			return replyAlreadyInConversation
		case repository.ConstraintClientOperating:
			return replyOperatorIsBusy
		default:
			return replyNoOperators
		}
	case errors.Is(err, repository.ErrNoOperatorAvailable):
		return replyNoOperators
	case errors.Is(err, repository.ErrBusy):
		return replyStorageBusy
	default:
		return replyInternalError
	}
}

// endConversationReply maps the outcome of ending a conversation to the text
// shown to the party who asked.
func endConversationReply(err error) string {
	switch {
	case err == nil:
		return replyConversationEnded
	case errors.Is(err, repository.ErrNotFound):
		return replyNotInConversation
	case errors.Is(err, repository.ErrBusy):
		return replyStorageBusy
	default:
		return replyInternalError
	}
}
