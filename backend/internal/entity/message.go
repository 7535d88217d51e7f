package entity

import "time"

const (
	MessageMinLength = 1
	MessageMaxLength = 2048
)

type ReplyTo struct {
	PreviewContent string `json:"preview_content" msgpack:"preview_content"`
	MessageID      string `json:"message_id" msgpack:"message_id"`
}

type Message struct {
	ID              string    `json:"id"`
	Content         string    `json:"content"`
	SenderTokenHash string    `json:"sender_token_hash"`
	SenderUsername  string    `json:"sender_username"`
	ReplyTo         *ReplyTo  `json:"reply_to"`
	CreatedAt       time.Time `json:"created_at"`
}
