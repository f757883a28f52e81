package telegram_bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/kolayne/anonymous-helpline-chatbot/internal/config"
	"github.com/kolayne/anonymous-helpline-chatbot/internal/repository"
)

// Bot is the dispatch layer between Telegram and the pairing engine. It
// translates platform events into repository calls and never touches rows
// directly, so every pairing rule stays enforced in one place.
type Bot struct {
	api         *tgbotapi.BotAPI
	logger      *zap.Logger
	users       repository.UserRepository
	convs       repository.ConversationRepository
	reflections repository.ReflectionRepository
	pollTimeout int
}

// NewBot creates a new Telegram bot instance. Returns (nil, nil) when no
// token is configured, so deployments can run the admin API alone.
func NewBot(cfg *config.Config, users repository.UserRepository, convs repository.ConversationRepository,
	reflections repository.ReflectionRepository, logger *zap.Logger) (*Bot, error) {
	if cfg.Telegram.BotToken == "" {
		logger.Info("Telegram bot is disabled (telegram.bot_token is empty)")
		return nil, nil
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))

	return &Bot{
		api:         botAPI,
		logger:      logger,
		users:       users,
		convs:       convs,
		reflections: reflections,
		pollTimeout: cfg.Telegram.PollTimeoutSeconds,
	}, nil
}

// Start begins listening for updates from Telegram.
func (b *Bot) Start(ctx context.Context) error {
	if b == nil {
		return nil // Bot is disabled
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout

	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Telegram bot started, waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telegram bot shutting down...")
			b.api.StopReceivingUpdates()
			return nil
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

// handleUpdate dispatches one update. A panicking handler must not take the
// poll loop down with it, so everything runs behind a recover.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in update handler", zap.Any("panic", r))
			if update.Message != nil {
				b.sendText(update.Message.Chat.ID, replyInternalError)
			}
		}
	}()

	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.EditedMessage != nil:
		b.handleEditedMessage(ctx, update.EditedMessage)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	if _, err := b.users.RegisterOrGet(ctx, chatID); err != nil {
		b.logger.Error("Failed to register user", zap.Int64("tg_id", chatID), zap.Error(err))
		b.sendText(chatID, replyInternalError)
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	b.relayMessage(ctx, msg)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start", "help":
		b.replyTo(msg, replyGreeting)
	case "start_conversation":
		b.startConversation(ctx, msg)
	case "end_conversation":
		b.endConversation(ctx, msg)
	default:
		b.replyTo(msg, replyGreeting)
		b.logger.Debug("Unknown command", zap.String("command", msg.Command()), zap.Int64("tg_id", chatID))
	}
}

func (b *Bot) startConversation(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	_, operator, err := b.convs.StartWithRandomOperator(ctx, chatID)
	if err != nil {
		var violation *repository.InvariantViolationError
		if !errors.As(err, &violation) &&
			!errors.Is(err, repository.ErrNoOperatorAvailable) &&
			!errors.Is(err, repository.ErrBusy) {
			b.logger.Error("Failed to start conversation", zap.Int64("tg_id", chatID), zap.Error(err))
		}
		b.replyTo(msg, startConversationReply(err))
		return
	}

	b.replyTo(msg, startConversationReply(nil))
	b.sendText(operator.TgID, replyOperatorNotified)
	b.logger.Info("Conversation started",
		zap.Int64("client_tg_id", chatID),
		zap.Int64("operator_tg_id", operator.TgID),
	)
}

// endConversation closes the conversation whichever side the caller is on.
func (b *Bot) endConversation(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	// The counterpart is looked up before the delete; afterwards there is
	// nothing left to resolve.
	counterpart, err := b.convs.FindCounterpart(ctx, chatID)
	if err != nil {
		b.logger.Error("Failed to find counterpart", zap.Int64("tg_id", chatID), zap.Error(err))
		b.replyTo(msg, replyInternalError)
		return
	}

	err = b.convs.EndByClient(ctx, chatID)
	if errors.Is(err, repository.ErrNotFound) {
		err = b.convs.EndByOperator(ctx, chatID)
	}

	b.replyTo(msg, endConversationReply(err))
	if err == nil && counterpart != nil {
		b.sendText(counterpart.TgID, replyCounterpartLeft)
		b.logger.Info("Conversation ended",
			zap.Int64("tg_id", chatID),
			zap.Int64("counterpart_tg_id", counterpart.TgID),
		)
	}
}

func (b *Bot) replyTo(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(out); err != nil {
		b.logger.Error("Failed to send reply", zap.Int64("tg_id", msg.Chat.ID), zap.Error(err))
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error("Failed to send message", zap.Int64("tg_id", chatID), zap.Error(err))
	}
}
