package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"jobeconomy.ai/internal/protocol"
)

// script is a repeating sequence of gameplay actions for one track.
var scripts = map[string][]protocol.ActMsg{
	"miner":      {{Kind: "break", Target: "stone"}, {Kind: "break", Target: "coal_ore"}, {Kind: "break", Target: "iron_ore"}},
	"woodcutter": {{Kind: "break", Target: "oak_log"}, {Kind: "break", Target: "birch_log"}},
	"builder":    {{Kind: "place", Target: "stone_bricks"}, {Kind: "place", Target: "glass"}},
	"hunter":     {{Kind: "kill", Target: "zombie"}, {Kind: "kill", Target: "skeleton"}},
	"crafter":    {{Kind: "craft", Target: "planks"}},
}

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		actorID  = flag.String("actor", "", "actor id (default: bot-<random>)")
		name     = flag.String("name", "bot", "display name")
		track    = flag.String("track", "miner", "track to join")
		zone     = flag.String("zone", "overworld", "zone")
		interval = flag.Duration("interval", 250*time.Millisecond, "delay between actions")
		count    = flag.Int("count", 0, "actions to send before leaving (0 = until interrupted)")
		synth    = flag.Bool("synthetic", false, "announce as a synthetic actor (the gate rejects these)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	if strings.TrimSpace(*actorID) == "" {
		*actorID = fmt.Sprintf("bot-%06d", rand.Intn(1_000_000))
	}
	script := scripts[*track]
	if len(script) == 0 {
		logger.Fatalf("no action script for track %q", *track)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ActorID:         *actorID,
		Name:            *name,
		Zone:            *zone,
		Mode:            "survival",
		Synthetic:       *synth,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	welcomed := make(chan protocol.WelcomeMsg, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		readLoop(conn, logger, welcomed)
	}()

	select {
	case w := <-welcomed:
		logger.Printf("WELCOME actor=%s session=%s tick_rate=%d tracks=%v", w.ActorID, w.SessionID, w.TickRateHz, w.Tracks)
	case <-done:
		logger.Fatalf("connection closed before WELCOME")
	case <-time.After(10 * time.Second):
		logger.Fatalf("timed out waiting for WELCOME")
	}

	seq := 0
	send := func(a protocol.ActMsg) bool {
		seq++
		a.Type = protocol.TypeAct
		a.ProtocolVersion = protocol.Version
		a.ID = fmt.Sprintf("A_%d", seq)
		if err := conn.WriteJSON(a); err != nil {
			logger.Printf("send ACT: %v", err)
			return false
		}
		return true
	}
	if !send(protocol.ActMsg{Kind: "track-join", Target: *track}) {
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	sent := 0
	for *count == 0 || sent < *count {
		select {
		case <-stop:
			return
		case <-done:
			return
		case <-ticker.C:
			if !send(script[sent%len(script)]) {
				return
			}
			sent++
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	logger.Printf("sent %d actions", sent)
}

func readLoop(conn *websocket.Conn, logger *log.Logger, welcomed chan<- protocol.WelcomeMsg) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			select {
			case welcomed <- w:
			default:
			}
		case protocol.TypeAck:
			var a protocol.AckMsg
			if err := json.Unmarshal(msg, &a); err != nil {
				continue
			}
			if !a.Accepted {
				logger.Printf("ACK %s rejected code=%s %s", a.AckFor, a.Code, a.Message)
			}
		case protocol.TypeNotice:
			var n protocol.NoticeMsg
			if err := json.Unmarshal(msg, &n); err != nil {
				continue
			}
			logger.Printf("NOTICE %s track=%s level=%d xp=%.1f %s", n.Kind, n.TrackID, n.Level, n.Experience, n.Message)
		}
	}
}
