package models

import "time"

// ReflectedMessage records one mirrored delivery: the message
// (SenderChatID, SenderMessageID) was copied into the receiver's chat as
// (ReceiverChatID, ReceiverMessageID). Rows are append-only and retained
// after the conversation ends, so reply chains, edits and deletions keep
// resolving.
type ReflectedMessage struct {
	ID                int64     `db:"id" json:"id"`
	SenderChatID      int64     `db:"sender_chat_id" json:"sender_chat_id"`
	SenderMessageID   int64     `db:"sender_message_id" json:"sender_message_id"`
	ReceiverChatID    int64     `db:"receiver_chat_id" json:"receiver_chat_id"`
	ReceiverMessageID int64     `db:"receiver_message_id" json:"receiver_message_id"`
	MirroredAt        time.Time `db:"mirrored_at" json:"mirrored_at"`
}

// MessageRef identifies a single platform message within a chat.
type MessageRef struct {
	ChatID    int64 `db:"chat_id" json:"chat_id"`
	MessageID int64 `db:"message_id" json:"message_id"`
}
