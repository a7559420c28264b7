package broker

import (
	"encoding/json"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/sessionsvc"
)

// Request types (client to broker).
const (
	TypeSetPeerStatus     = "setPeerStatus"
	TypeList              = "list"
	TypeCreateSession     = "createSession"
	TypeStartSession      = "startSession"
	TypeSessionStarted    = "sessionStarted"
	TypePeer              = "peer"
	TypeEndSession        = "endSession"
	TypeGetSessions       = "getSessions"
	TypeGetSession        = "getSession"
	TypeSubmitWebRtcStats = "submitWebRtcStats"
)

// Response types (broker to client).
const (
	TypeWelcome           = "welcome"
	TypePeerStatusChanged = "peerStatusChanged"
	TypeSessionCreated    = "sessionCreated"
	TypeSession           = "session"
	TypeSessionsList      = "sessionsList"
	TypeSessionEnded      = "sessionEnded"
	TypeError             = "error"
)

type requestEnvelope struct {
	Type string `json:"type"`
}

type SetPeerStatusRequest struct {
	Meta  map[string]any `json:"meta"`
	Roles []string       `json:"roles"`
	// PeerID is sent by producers but currently unused.
	PeerID string `json:"peerId,omitempty"`
}

type CreateSessionRequest struct {
	AppReleaseUUID string   `json:"app_release_uuid"`
	PreferredDCs   []string `json:"preferred_dcs,omitempty"`
}

type StartSessionRequest struct {
	PeerID    string `json:"peerId"`
	SessionID string `json:"sessionId"`
}

// EndSessionRequest doubles as the frame forwarded to the counterpart peer of
// a terminating session.
type EndSessionRequest struct {
	Type      string `json:"type,omitempty"`
	SessionID string `json:"sessionId"`
	Soft      bool   `json:"soft"`
}

type GetSessionRequest struct {
	SessionID string `json:"sessionId"`
}

type SubmitWebRtcStatsRequest struct {
	SessionID string `json:"sessionId"`
	Stats     string `json:"stats"`
}

type WelcomeResponse struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
}

type PeerStatusResponse struct {
	Type   string         `json:"type"`
	Roles  []string       `json:"roles"`
	Meta   map[string]any `json:"meta"`
	PeerID string         `json:"peerId"`
}

type ListProducer struct {
	ID   string         `json:"id"`
	Meta map[string]any `json:"meta"`
}

type ListResponse struct {
	Type      string         `json:"type"`
	Producers []ListProducer `json:"producers"`
}

type SessionCreatedResponse struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// StartSessionFrame is sent to the producer once the upstream start call has
// succeeded.
type StartSessionFrame struct {
	Type      string `json:"type"`
	PeerID    string `json:"peerId"`
	SessionID string `json:"sessionId"`
}

// SessionStartedFrame is the consumer-side counterpart of StartSessionFrame.
type SessionStartedFrame struct {
	Type      string `json:"type"`
	PeerID    string `json:"peerId"`
	SessionID string `json:"sessionId"`
}

type SessionEndedResponse struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type SessionResponse struct {
	Type    string              `json:"type"`
	Session *sessionsvc.Session `json:"session"`
}

type SessionsListResponse struct {
	Type     string               `json:"type"`
	Sessions []sessionsvc.Session `json:"sessions"`
}

type ErrorResponse struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
