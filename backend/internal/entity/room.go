package entity

import (
	"slices"
	"time"
)

// Room 房间的持久化视图（不含消息列表，消息按需分页读取）
type Room struct {
	Name                       string
	PasswordHash               string
	InviteCode                 string
	AdminTokenHash             string
	ModeratorTokenHashes       []string
	BlacklistedUserTokenHashes []string
	CreatedAt                  time.Time
}

// IsBlacklisted 判断某个用户令牌哈希是否在房间黑名单里
func (r *Room) IsBlacklisted(userTokenHash string) bool {
	return slices.Contains(r.BlacklistedUserTokenHashes, userTokenHash)
}
