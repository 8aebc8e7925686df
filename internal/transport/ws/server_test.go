package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"jobeconomy.ai/internal/protocol"
	"jobeconomy.ai/internal/sim/economy"
)

type fakeEngine struct {
	mu      sync.Mutex
	actions []economy.Action
	refuse  bool
}

func (f *fakeEngine) Submit(a economy.Action) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse && a.Kind != economy.KindSessionLeave {
		return false
	}
	f.actions = append(f.actions, a)
	return true
}

func (f *fakeEngine) TickRateHz() int { return 20 }

func (f *fakeEngine) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.actions))
	for _, a := range f.actions {
		out = append(out, a.Kind)
	}
	return out
}

func newTestServer(t *testing.T, eng *fakeEngine, cfg Config) (*Server, string) {
	t.Helper()
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	s := NewServer(eng, v, cfg)
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(hs.Close)
	return s, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func dial(t *testing.T, url, hello string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.WriteMessage(websocket.TextMessage, []byte(hello)); err != nil {
		t.Fatalf("hello: %v", err)
	}
	return c
}

func read(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(msg, v); err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

const hello = `{"type":"HELLO","protocol_version":"1.0","actor_id":"a1","zone":"world","mode":"survival"}`

func TestServer_SessionLifecycle(t *testing.T) {
	eng := &fakeEngine{}
	s, url := newTestServer(t, eng, Config{Tracks: func() ([]string, string) { return []string{"miner"}, "abc" }})
	c := dial(t, url, hello)

	var welcome protocol.WelcomeMsg
	read(t, c, &welcome)
	if welcome.Type != protocol.TypeWelcome || welcome.ActorID != "a1" || welcome.SessionID == "" {
		t.Fatalf("welcome: %+v", welcome)
	}
	if welcome.TickRateHz != 20 || len(welcome.Tracks) != 1 || welcome.CatalogDigest != "abc" {
		t.Fatalf("welcome params: %+v", welcome)
	}

	_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"ACT","id":"1","kind":"break","target":"stone"}`))
	var ack protocol.AckMsg
	read(t, c, &ack)
	if !ack.Accepted || ack.AckFor != "1" {
		t.Fatalf("ack: %+v", ack)
	}

	s.Notify(economy.Notice{ActorID: "a1", Kind: protocol.NoticeLevelUp, TrackID: "miner", Level: 2})
	var notice protocol.NoticeMsg
	read(t, c, &notice)
	if notice.Type != protocol.TypeNotice || notice.Level != 2 || notice.TrackID != "miner" {
		t.Fatalf("notice: %+v", notice)
	}

	_ = c.Close()
	waitFor(t, "session leave", func() bool {
		k := eng.kinds()
		return len(k) == 3 && k[2] == economy.KindSessionLeave
	})
	if got := eng.kinds(); got[0] != economy.KindSessionJoin || got[1] != "break" {
		t.Fatalf("actions: %v", got)
	}
	if s.Sessions() != 0 {
		t.Fatalf("sessions: %d", s.Sessions())
	}
}

func TestServer_RejectsBadMessages(t *testing.T) {
	eng := &fakeEngine{}
	_, url := newTestServer(t, eng, Config{})
	c := dial(t, url, hello)
	var welcome protocol.WelcomeMsg
	read(t, c, &welcome)

	cases := []struct {
		msg  string
		code string
	}{
		{`{"type":"ACT","kind":"Not Valid"}`, protocol.ErrProtoBadRequest},
		{`{"type":"ACT","id":"2","kind":"break","protocol_version":"0.1"}`, protocol.ErrProtoBadRequest},
		{`{"type":"ACT","id":"3","kind":"session-leave"}`, protocol.ErrBadRequest},
	}
	for _, tc := range cases {
		_ = c.WriteMessage(websocket.TextMessage, []byte(tc.msg))
		var ack protocol.AckMsg
		read(t, c, &ack)
		if ack.Accepted || ack.Code != tc.code {
			t.Fatalf("%s: ack %+v", tc.msg, ack)
		}
	}
	if k := eng.kinds(); len(k) != 1 {
		t.Fatalf("bad messages reached the engine: %v", k)
	}
}

func TestServer_RateLimit(t *testing.T) {
	eng := &fakeEngine{}
	_, url := newTestServer(t, eng, Config{ActionsPerSecond: 0.001, Burst: 2})
	c := dial(t, url, hello)
	var welcome protocol.WelcomeMsg
	read(t, c, &welcome)

	var codes []string
	for i := 0; i < 3; i++ {
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"ACT","kind":"break"}`))
		var ack protocol.AckMsg
		read(t, c, &ack)
		codes = append(codes, ack.Code)
	}
	if codes[0] != "" || codes[1] != "" || codes[2] != protocol.ErrRateLimit {
		t.Fatalf("codes: %v", codes)
	}
}

func TestServer_DuplicateActorRefused(t *testing.T) {
	eng := &fakeEngine{}
	_, url := newTestServer(t, eng, Config{})
	c1 := dial(t, url, hello)
	var welcome protocol.WelcomeMsg
	read(t, c1, &welcome)

	c2 := dial(t, url, hello)
	_ = c2.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := c2.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}

func TestServer_BusyEngineClosesHandshake(t *testing.T) {
	eng := &fakeEngine{refuse: true}
	s, url := newTestServer(t, eng, Config{})
	c := dial(t, url, hello)
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("expected try-again close, got %v", err)
	}
	if s.Sessions() != 0 {
		t.Fatalf("sessions: %d", s.Sessions())
	}
}
