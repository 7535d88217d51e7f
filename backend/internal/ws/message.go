package ws

// 客户端帧类型
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeHeartbeat   = "heartbeat"
)

// 服务端帧类型
const (
	TypeWelcome  = "welcome"
	TypeStarted  = "started"
	TypeData     = "data"
	TypeStopped  = "stopped"
	TypeError    = "error"
	TypeFeedback = "feedback"
)

type ClientMessage struct {
	Type string `json:"type"`
	// 客户端自选的订阅 ID，同一连接内唯一
	ID     string `json:"id"`
	Stream string `json:"stream"`

	ChatRoomName  string `json:"chatRoomName"`
	Password      string `json:"password"`
	UserTokenHash string `json:"user_token_hash"`
	UserName      string `json:"userName"`
}

type ServerMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Code    string `json:"code,omitempty"`
	Content string `json:"content,omitempty"`
}
