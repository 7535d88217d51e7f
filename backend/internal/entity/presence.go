package entity

import "time"

// PresenceEntry 房间在线名单中的一项；同一房间内 UserTokenHash 唯一
type PresenceEntry struct {
	UserTokenHash string    `json:"user_token_hash" msgpack:"user_token_hash"`
	UserName      string    `json:"userName" msgpack:"user_name"`
	JoinedAt      time.Time `json:"joined_at" msgpack:"joined_at"`
}
