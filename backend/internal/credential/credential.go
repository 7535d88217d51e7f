// Package credential 负责凭证摘要与邀请码生成。
// 客户端与服务端约定使用 sha256 十六进制摘要作为令牌哈希，摘要必须是确定性的，
// 这样事件过滤时才能直接比较。
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// InviteCodeBytes 邀请码随机字节数，编码后为 96 个十六进制字符
const InviteCodeBytes = 48

func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Equal 常量时间比较两个摘要
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func NewInviteCode() (string, error) {
	b := make([]byte, InviteCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
