package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"jobeconomy.ai/internal/protocol"
	"jobeconomy.ai/internal/sim/economy"
)

const (
	DefaultActionsPerSecond = 20
	DefaultBurst            = 40
	outQueue                = 32
)

// Ingress is the slice of the engine the transport feeds.
type Ingress interface {
	Submit(economy.Action) bool
	TickRateHz() int
}

type Config struct {
	ActionsPerSecond float64
	Burst            int
	// Tracks and CatalogDigest are echoed in WELCOME.
	Tracks        func() ([]string, string)
	Logger        *log.Logger
	ReadTimeout   time.Duration
	HelloTimeout  time.Duration
	WriteTimeout  time.Duration
	LeaveAttempts int
}

type Server struct {
	engine    Ingress
	validator *protocol.Validator
	cfg       Config
	log       *log.Logger

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*session
}

type session struct {
	id  string
	out chan []byte
}

var _ economy.Notifier = (*Server)(nil)

func NewServer(engine Ingress, v *protocol.Validator, cfg Config) *Server {
	if cfg.ActionsPerSecond <= 0 {
		cfg.ActionsPerSecond = DefaultActionsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.LeaveAttempts <= 0 {
		cfg.LeaveAttempts = 50
	}
	return &Server{
		engine:    engine,
		validator: v,
		cfg:       cfg,
		log:       cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		conns: map[string]*session{},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		actorID, sess := s.handshake(conn)
		if sess == nil {
			return
		}
		defer s.leave(actorID, sess)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		limiter := rate.NewLimiter(rate.Limit(s.cfg.ActionsPerSecond), s.cfg.Burst)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ack := s.handleAct(actorID, msg, limiter)
			if b, err := json.Marshal(ack); err == nil {
				enqueue(sess.out, b)
			}
		}
	}
}

func (s *Server) handleAct(actorID string, msg []byte, limiter *rate.Limiter) protocol.AckMsg {
	ack := protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version}
	if err := s.validator.ValidateAct(msg); err != nil {
		ack.Code, ack.Message = protocol.ErrProtoBadRequest, err.Error()
		return ack
	}
	var act protocol.ActMsg
	if err := json.Unmarshal(msg, &act); err != nil {
		ack.Code, ack.Message = protocol.ErrProtoBadRequest, err.Error()
		return ack
	}
	ack.AckFor = act.ID
	if act.ProtocolVersion != "" && act.ProtocolVersion != protocol.Version {
		ack.Code, ack.Message = protocol.ErrProtoBadRequest, "bad protocol_version"
		return ack
	}
	switch act.Kind {
	case economy.KindSessionJoin, economy.KindSessionLeave:
		ack.Code, ack.Message = protocol.ErrBadRequest, "session kinds are managed by the server"
		return ack
	}
	if !limiter.Allow() {
		ack.Code = protocol.ErrRateLimit
		return ack
	}
	ok := s.engine.Submit(economy.Action{
		Kind:    act.Kind,
		ActorID: actorID,
		Target:  act.Target,
		Zone:    act.Zone,
		Mode:    act.Mode,
	})
	if !ok {
		ack.Code = protocol.ErrBusy
		return ack
	}
	ack.Accepted = true
	return ack
}

func (s *Server) handshake(conn *websocket.Conn) (string, *session) {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HelloTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}
	if err := s.validator.ValidateHello(msg); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != "" && hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return "", nil
	}

	sess := &session{id: uuid.NewString(), out: make(chan []byte, outQueue)}
	s.mu.Lock()
	if _, dup := s.conns[hello.ActorID]; dup {
		s.mu.Unlock()
		closeWith(conn, websocket.ClosePolicyViolation, "actor already connected")
		return "", nil
	}
	s.conns[hello.ActorID] = sess
	s.mu.Unlock()

	if !s.engine.Submit(economy.Action{
		Kind:      economy.KindSessionJoin,
		ActorID:   hello.ActorID,
		Name:      hello.Name,
		Zone:      hello.Zone,
		Mode:      hello.Mode,
		Synthetic: hello.Synthetic,
	}) {
		s.unregister(hello.ActorID, sess)
		closeWith(conn, websocket.CloseTryAgainLater, protocol.ErrBusy)
		return "", nil
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		ActorID:         hello.ActorID,
		TickRateHz:      s.engine.TickRateHz(),
	}
	if s.cfg.Tracks != nil {
		welcome.Tracks, welcome.CatalogDigest = s.cfg.Tracks()
	}
	if err := writeJSON(conn, welcome, s.cfg.WriteTimeout); err != nil {
		s.leave(hello.ActorID, sess)
		return "", nil
	}
	s.printf("session open actor=%s session=%s", hello.ActorID, sess.id)
	return hello.ActorID, sess
}

// leave unregisters the session and tells the engine. The leave must reach
// the engine, so a full inbox is retried briefly.
func (s *Server) leave(actorID string, sess *session) {
	if !s.unregister(actorID, sess) {
		return
	}
	a := economy.Action{Kind: economy.KindSessionLeave, ActorID: actorID}
	for i := 0; i < s.cfg.LeaveAttempts; i++ {
		if s.engine.Submit(a) {
			s.printf("session closed actor=%s session=%s", actorID, sess.id)
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	s.printf("session leave dropped actor=%s", actorID)
}

func (s *Server) unregister(actorID string, sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.conns[actorID]; !ok || cur != sess {
		return false
	}
	delete(s.conns, actorID)
	return true
}

// Notify pushes a NOTICE to the actor's connection, if any. It never
// blocks; a full outbound queue drops the oldest message.
func (s *Server) Notify(n economy.Notice) {
	s.mu.Lock()
	sess := s.conns[n.ActorID]
	s.mu.Unlock()
	if sess == nil {
		return
	}
	b, err := json.Marshal(protocol.NoticeMsg{
		Type:            protocol.TypeNotice,
		ProtocolVersion: protocol.Version,
		ActorID:         n.ActorID,
		Kind:            n.Kind,
		TrackID:         n.TrackID,
		Level:           n.Level,
		Experience:      n.Experience,
		Message:         n.Message,
	})
	if err != nil {
		return
	}
	enqueue(sess.out, b)
}

func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func enqueue(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any, timeout time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
