package models

import "time"

// Message represents a chat message.
type Message struct {
	ID       int        `db:"id" json:"id"`
	ChatID   int        `db:"chat_id" json:"chat_id"`
	SenderID int        `db:"sender_id" json:"sender_id"`
	Content  string     `db:"content" json:"content"`
	Sent     time.Time  `db:"sent" json:"sent"`
	Updated  *time.Time `db:"updated" json:"updated,omitempty"`
}

// UnreadNotice tells an offline participant how many messages they missed.
type UnreadNotice struct {
	ChatID int `json:"chat_id"`
	UserID int `json:"-"`
	Unread int `json:"unread"`
}
