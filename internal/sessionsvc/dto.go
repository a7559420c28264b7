package sessionsvc

import "time"

// SessionStatus is the upstream session lifecycle state.
type SessionStatus string

const (
	StatusPending SessionStatus = "pending"
	StatusActive  SessionStatus = "active"
	StatusPaused  SessionStatus = "paused"
	StatusClosed  SessionStatus = "closed"
)

// WsConn identifies the websocket legs of a session. The id doubles as the
// sticky session cookie value; consumer_id is the peer awaiting the stream,
// producer_id the peer producing it (empty until the session is started).
type WsConn struct {
	ID         string `json:"id"`
	ConsumerID string `json:"consumer_id"`
	ProducerID string `json:"producer_id,omitempty"`
}

// Container describes where the producing workload runs.
type Container struct {
	ID     string `json:"id"`
	NodeID string `json:"node_id"`
	Region string `json:"region"`
}

type Session struct {
	ID             string        `json:"id"`
	AppReleaseUUID string        `json:"app_release_uuid"`
	Container      *Container    `json:"container"`
	Updated        time.Time     `json:"updated"`
	UserID         int64         `json:"user_id"`
	Status         SessionStatus `json:"status"`
	WsConn         WsConn        `json:"ws_conn"`

	// Ending is broker-local state, never sent by the upstream. It marks a
	// session whose termination has already begun so that concurrent peer
	// disconnects and explicit endSession requests do not double-close.
	Ending bool `json:"ending"`
}

type CreateSessionWsConn struct {
	ID         string `json:"id"`
	ConsumerID string `json:"consumer_id"`
}

type CreateSessionRequest struct {
	AppReleaseUUID string              `json:"app_release_uuid"`
	UserID         int64               `json:"user_id"`
	WsConn         CreateSessionWsConn `json:"ws_conn"`
	PreferredDCs   []string            `json:"preferred_dcs"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type StartSessionRequest struct {
	WsConn WsConn `json:"ws_conn"`
}

type GetSessionResponse struct {
	Session Session `json:"session"`
}

type GetSessionsResponse struct {
	Sessions []Session `json:"sessions"`
}

// SubmitWebRtcStatsRequest carries a json-encoded stats blob; the broker does
// not inspect it.
type SubmitWebRtcStatsRequest struct {
	Stats string `json:"stats"`
}
