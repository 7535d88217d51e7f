package cache

import "fmt"

// 键语义：
// - rosterKey(room):  房间在线名单快照（String，msgpack 编码的 []PresenceEntry）
// - roomsKey():       有在线成员的房间索引（Set<room>）

const (
	keyRosterFmt = "presence:roster:{room:%s}" // String msgpack
	keyRoomsSet  = "presence:rooms"            // Set<room>
)

func rosterKey(room string) string { return fmt.Sprintf(keyRosterFmt, room) }
func roomsKey() string             { return keyRoomsSet }
