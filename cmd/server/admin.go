package main

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	ledger "jobeconomy.ai/internal/persistence/log"
	"jobeconomy.ai/internal/observability/metrics"
	"jobeconomy.ai/internal/sim/admission"
	"jobeconomy.ai/internal/sim/dedup"
	"jobeconomy.ai/internal/sim/economy"
	"jobeconomy.ai/internal/sim/queue"
	"jobeconomy.ai/internal/transport/ws"
)

type runtime struct {
	engine *economy.Engine
	queue  *queue.Queue
	cache  *dedup.Cache
	ws     *ws.Server
	ledger *ledger.Writer
}

type stateResponse struct {
	Engine   economy.Stats          `json:"engine"`
	Queue    queue.Stats            `json:"queue"`
	Dedup    dedup.Stats            `json:"dedup"`
	Gate     admission.Stats        `json:"gate"`
	Config   admission.ConfigCounts `json:"gate_config"`
	Enabled  bool                   `json:"gate_enabled"`
	Sessions int                    `json:"sessions"`
	Ledger   uint64                 `json:"ledger_entries"`
	Catalog  string                 `json:"catalog_digest"`
}

func (rt *runtime) metricSources() metrics.Sources {
	src := metrics.Sources{
		Queue:  rt.queue.Stats,
		Dedup:  rt.cache.Stats,
		Gate:   rt.engine.Gate().Stats,
		Engine: rt.engine.Stats,
	}
	if rt.ws != nil {
		src.Sessions = rt.ws.Sessions
	}
	return src
}

func (rt *runtime) state() stateResponse {
	gate := rt.engine.Gate()
	st := stateResponse{
		Engine:  rt.engine.Stats(),
		Queue:   rt.queue.Stats(),
		Dedup:   rt.cache.Stats(),
		Gate:    gate.Stats(),
		Config:  gate.Counts(),
		Enabled: gate.Enabled(),
	}
	if rt.ws != nil {
		st.Sessions = rt.ws.Sessions()
	}
	if rt.ledger != nil {
		st.Ledger = rt.ledger.Written()
	}
	if c := rt.engine.Catalog(); c != nil {
		st.Catalog = c.Digest
	}
	return st
}

// Local-only admin endpoints.
func (rt *runtime) registerAdmin(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(rt.state())
	})
	mux.HandleFunc("/admin/v1/dedup/clear", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		actor := strings.TrimSpace(r.URL.Query().Get("actor"))
		kind := strings.TrimSpace(r.URL.Query().Get("kind"))
		scope := "all"
		switch {
		case actor != "" && kind != "":
			http.Error(rw, "actor and kind are exclusive", http.StatusBadRequest)
			return
		case actor != "":
			rt.cache.ClearActor(actor)
			scope = "actor"
		case kind != "":
			rt.cache.ClearKind(kind)
			scope = "kind"
		default:
			rt.cache.ClearAll()
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "scope": scope, "dedup": rt.cache.Stats()})
	})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
