package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"cipherchat/backend/internal/bus"
	"cipherchat/backend/internal/cache"
	"cipherchat/backend/internal/chat"
	"cipherchat/backend/internal/credential"
	"cipherchat/backend/internal/entity"
	"cipherchat/backend/internal/store"
)

type envelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

type staticMirror struct{ rooms []string }

func (staticMirror) SaveRoster(context.Context, string, []entity.PresenceEntry) error { return nil }
func (staticMirror) Roster(context.Context, string) ([]entity.PresenceEntry, error)  { return nil, nil }
func (m staticMirror) Rooms(context.Context) ([]string, error)                       { return m.rooms, nil }

func newRouter(mirror *staticMirror) (*gin.Engine, *bus.Bus) {
	gin.SetMode(gin.TestMode)
	rooms := store.NewMemoryStore(credential.NewInviteCode)
	b := bus.New()
	var m cache.PresenceMirror
	if mirror != nil {
		m = *mirror
	}
	h := NewChatHandler(chat.NewService(rooms, b), chat.NewModeration(rooms, b), m)
	r := gin.New()
	h.Register(r)
	return r, b
}

func do(t *testing.T, r http.Handler, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w.Code, env
}

func TestHandlers_RoomLifecycle(t *testing.T) {
	r, _ := newRouter(nil)

	code, env := do(t, r, http.MethodPost, "/chat/rooms", gin.H{"chatRoomName": "team-x", "password": "p1", "adminToken": "adm"})
	if code != http.StatusOK || !env.Success {
		t.Fatalf("create room: %d %+v", code, env)
	}
	var created struct {
		ChatRoomName string `json:"chatRoomName"`
		InviteCode   string `json:"inviteCode"`
	}
	_ = json.Unmarshal(env.Payload, &created)
	if created.ChatRoomName != "team_x" || created.InviteCode == "" {
		t.Fatalf("create payload = %s", env.Payload)
	}

	code, env = do(t, r, http.MethodPost, "/chat/rooms", gin.H{"chatRoomName": "team x", "password": "p1", "adminToken": "adm"})
	if code != http.StatusConflict || env.Code != chat.CodeConflict {
		t.Fatalf("duplicate room: %d %+v", code, env)
	}

	code, env = do(t, r, http.MethodPost, "/chat/invites/resolve", gin.H{"inviteCode": created.InviteCode, "password": "p1"})
	if code != http.StatusOK || !bytes.Contains(env.Payload, []byte(`"team_x"`)) {
		t.Fatalf("resolve invite: %d %+v", code, env)
	}
	if bytes.Contains(env.Payload, []byte(created.InviteCode)) {
		t.Fatalf("resolve invite response leaks the invite code")
	}

	code, env = do(t, r, http.MethodPost, "/chat/messages", gin.H{
		"chatRoomName": "team_x",
		"password":     "p1",
		"messageBody":  gin.H{"content": "hi", "sender_token_hash": "h", "sender_username": "alice"},
	})
	if code != http.StatusOK {
		t.Fatalf("send message: %d %+v", code, env)
	}

	code, env = do(t, r, http.MethodPost, "/chat/messages/list", gin.H{"chatRoomName": "team_x", "password": "p1"})
	var listed struct {
		Messages []entity.Message `json:"messages"`
	}
	_ = json.Unmarshal(env.Payload, &listed)
	if code != http.StatusOK || len(listed.Messages) != 1 || listed.Messages[0].Content != "hi" {
		t.Fatalf("list messages: %d %s", code, env.Payload)
	}

	code, env = do(t, r, http.MethodPost, "/chat/messages/list", gin.H{"chatRoomName": "team_x", "password": "nope"})
	if code != http.StatusUnauthorized || env.Code != chat.CodeUnauthorized {
		t.Fatalf("list with wrong password: %d %+v", code, env)
	}
}

func TestHandlers_Validation(t *testing.T) {
	r, _ := newRouter(nil)
	do(t, r, http.MethodPost, "/chat/rooms", gin.H{"chatRoomName": "team-x", "password": "p1", "adminToken": "adm"})

	code, env := do(t, r, http.MethodPost, "/chat/rooms", gin.H{"chatRoomName": "x"})
	if code != http.StatusBadRequest || env.Code != chat.CodeBadRequest {
		t.Fatalf("missing fields: %d %+v", code, env)
	}
	code, env = do(t, r, http.MethodPost, "/chat/messages", gin.H{
		"chatRoomName": "team_x",
		"password":     "p1",
		"messageBody":  gin.H{"content": "", "sender_token_hash": "h", "sender_username": "alice"},
	})
	if code != http.StatusBadRequest {
		t.Fatalf("empty content: %d %+v", code, env)
	}
}

func TestHandlers_BlacklistMember(t *testing.T) {
	r, b := newRouter(nil)
	do(t, r, http.MethodPost, "/chat/rooms", gin.H{"chatRoomName": "team-x", "password": "p1", "adminToken": "adm"})
	var events []bus.MemberBlacklisted
	b.Subscribe(bus.TopicMemberBlacklisted, func(e bus.Event) { events = append(events, e.(bus.MemberBlacklisted)) })

	code, env := do(t, r, http.MethodPost, "/moderation/blacklist", gin.H{
		"chatRoomName": "team_x", "user_token_hash": "not-admin", "target_user_token_hash": "h", "reason": "spam",
	})
	if code != http.StatusUnauthorized || len(events) != 0 {
		t.Fatalf("non-admin blacklist: %d %+v events=%d", code, env, len(events))
	}

	code, env = do(t, r, http.MethodPost, "/moderation/blacklist", gin.H{
		"chatRoomName": "team_x", "user_token_hash": credential.Hash("adm"), "target_user_token_hash": "h", "reason": "spam",
	})
	if code != http.StatusOK || !env.Success {
		t.Fatalf("admin blacklist: %d %+v", code, env)
	}
	if len(events) != 1 || events[0].Reason != "spam" || events[0].TargetHash != "h" {
		t.Fatalf("events = %+v", events)
	}

	code, _ = do(t, r, http.MethodPost, "/chat/messages", gin.H{
		"chatRoomName": "team_x",
		"password":     "p1",
		"messageBody":  gin.H{"content": "still here", "sender_token_hash": "h", "sender_username": "h"},
	})
	if code != http.StatusUnauthorized {
		t.Fatalf("blacklisted sender status = %d, want 401", code)
	}
}

func TestHandlers_StatusAndPresence(t *testing.T) {
	r, _ := newRouter(nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"status":"OK"`)) {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}

	if code, _ := do(t, r, http.MethodGet, "/chat/presence/rooms", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("presence without mirror = %d, want 503", code)
	}

	r, _ = newRouter(&staticMirror{rooms: []string{"team_x"}})
	code, env := do(t, r, http.MethodGet, "/chat/presence/rooms", nil)
	if code != http.StatusOK || !bytes.Contains(env.Payload, []byte("team_x")) {
		t.Fatalf("presence rooms: %d %+v", code, env)
	}
}
