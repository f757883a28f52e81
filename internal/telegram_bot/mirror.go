package telegram_bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/kolayne/anonymous-helpline-chatbot/internal/models"
)

// relayMessage mirrors an inbound message to the sender's counterpart. The
// platform send happens first and only then is the reflection recorded: no
// database locks are held across the network call, and a failed send leaves
// the log untouched.
func (b *Bot) relayMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	counterpart, err := b.convs.FindCounterpart(ctx, chatID)
	if err != nil {
		b.logger.Error("Failed to find counterpart", zap.Int64("tg_id", chatID), zap.Error(err))
		b.replyTo(msg, replyInternalError)
		return
	}
	if counterpart == nil {
		b.replyTo(msg, replyNotInConversation)
		return
	}

	if msg.MediaGroupID != "" {
		b.replyTo(msg, replyMediaGroup)
	}

	mirrored, ok := b.sendMirror(ctx, msg, counterpart.TgID)
	if !ok {
		return
	}

	reflection := &models.ReflectedMessage{
		SenderChatID:      chatID,
		SenderMessageID:   int64(msg.MessageID),
		ReceiverChatID:    counterpart.TgID,
		ReceiverMessageID: int64(mirrored),
	}
	if err := b.reflections.Record(ctx, reflection); err != nil {
		b.logger.Error("Failed to record reflection",
			zap.Int64("sender_chat_id", chatID),
			zap.Int64("receiver_chat_id", counterpart.TgID),
			zap.Error(err),
		)
	}
}

// sendMirror delivers a copy of msg into the counterpart's chat and returns
// the mirrored message id. Text goes as a fresh message so the sender stays
// anonymous; media and the rest go through copyMessage, which likewise
// drops the forward header.
func (b *Bot) sendMirror(ctx context.Context, msg *tgbotapi.Message, receiverChatID int64) (int, bool) {
	replyTo := b.resolveReplyTarget(ctx, msg, receiverChatID)

	var sent tgbotapi.Message
	var err error
	if msg.Text != "" {
		out := tgbotapi.NewMessage(receiverChatID, msg.Text)
		out.ReplyToMessageID = replyTo
		sent, err = b.api.Send(out)
	} else if msg.Photo != nil || msg.Video != nil || msg.Voice != nil ||
		msg.Audio != nil || msg.Document != nil || msg.Sticker != nil {
		cp := tgbotapi.NewCopyMessage(receiverChatID, msg.Chat.ID, msg.MessageID)
		cp.ReplyToMessageID = replyTo
		sent, err = b.api.Send(cp)
	} else {
		b.replyTo(msg, replyUnsupportedType)
		return 0, false
	}

	if err != nil {
		b.logger.Error("Failed to mirror message",
			zap.Int64("sender_chat_id", msg.Chat.ID),
			zap.Int64("receiver_chat_id", receiverChatID),
			zap.Error(err),
		)
		b.replyTo(msg, replyInternalError)
		return 0, false
	}

	return sent.MessageID, true
}

// resolveReplyTarget keeps reply threading across the mirror. When the
// sender replies to a mirrored copy in their chat, the outgoing copy replies
// to the original on the other side; when they reply to their own earlier
// message, it replies to that message's mirror. Zero means no threading.
func (b *Bot) resolveReplyTarget(ctx context.Context, msg *tgbotapi.Message, receiverChatID int64) int {
	if msg.ReplyToMessage == nil {
		return 0
	}
	repliedID := int64(msg.ReplyToMessage.MessageID)

	original, err := b.reflections.ResolveOriginal(ctx, msg.Chat.ID, repliedID)
	if err != nil {
		b.logger.Error("Failed to resolve original for reply", zap.Error(err))
		return 0
	}
	if original != nil && original.ChatID == receiverChatID {
		return int(original.MessageID)
	}

	cursor := b.reflections.ResolveMirror(msg.Chat.ID, repliedID)
	for {
		ref, err := cursor.Next(ctx)
		if err != nil {
			b.logger.Error("Failed to resolve mirror for reply", zap.Error(err))
			return 0
		}
		if ref == nil {
			return 0
		}
		if ref.ChatID == receiverChatID {
			return int(ref.MessageID)
		}
	}
}

// handleEditedMessage propagates a text edit to every mirrored copy.
func (b *Bot) handleEditedMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Text == "" {
		return // Caption and media edits are not propagated
	}

	cursor := b.reflections.ResolveMirror(msg.Chat.ID, int64(msg.MessageID))
	for {
		ref, err := cursor.Next(ctx)
		if err != nil {
			b.logger.Error("Failed to resolve mirrors for edit", zap.Error(err))
			return
		}
		if ref == nil {
			return
		}

		edit := tgbotapi.NewEditMessageText(ref.ChatID, int(ref.MessageID), msg.Text)
		if _, err := b.api.Send(edit); err != nil {
			b.logger.Error("Failed to propagate edit",
				zap.Int64("receiver_chat_id", ref.ChatID),
				zap.Error(err),
			)
		}
	}
}
