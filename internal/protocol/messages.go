package protocol

// HELLO (client -> server): opens an actor session.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ActorID         string `json:"actor_id"`
	Name            string `json:"name,omitempty"`
	Zone            string `json:"zone,omitempty"`
	Mode            string `json:"mode,omitempty"`
	Synthetic       bool   `json:"synthetic,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	SessionID       string   `json:"session_id"`
	ActorID         string   `json:"actor_id"`
	TickRateHz      int      `json:"tick_rate_hz"`
	CatalogDigest   string   `json:"catalog_digest,omitempty"`
	Tracks          []string `json:"tracks,omitempty"`
}

// ACT (client -> server): one gameplay action. Zone and mode, when set,
// update the actor's presence before the action is evaluated.
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ID              string `json:"id,omitempty"`
	Kind            string `json:"kind"`
	Target          string `json:"target,omitempty"`
	Zone            string `json:"zone,omitempty"`
	Mode            string `json:"mode,omitempty"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for,omitempty"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// Notice kinds.
const (
	NoticeLevelUp     = "LEVEL_UP"
	NoticeMaxLevel    = "MAX_LEVEL"
	NoticeFailure     = "FAILURE"
	NoticeTrackJoined = "TRACK_JOINED"
	NoticeTrackLeft   = "TRACK_LEFT"
)

// NOTICE (server -> client): asynchronous outcome of earlier actions.
type NoticeMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ActorID         string  `json:"actor_id"`
	Kind            string  `json:"kind"`
	TrackID         string  `json:"track_id,omitempty"`
	Level           int     `json:"level,omitempty"`
	Experience      float64 `json:"experience,omitempty"`
	Message         string  `json:"message,omitempty"`
}
