package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/sessionsvc"
)

// SessionService is the subset of the session service client used by the
// broker.
type SessionService interface {
	CreateSession(ctx context.Context, req *sessionsvc.CreateSessionRequest) (*sessionsvc.CreateSessionResponse, error)
	StartSession(ctx context.Context, sessionID string, req *sessionsvc.StartSessionRequest) error
	PauseSession(ctx context.Context, sessionID string) error
	CloseSession(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (*sessionsvc.Session, error)
	GetUserSessions(ctx context.Context, userID int64) ([]sessionsvc.Session, error)
	GetConsumerSessions(ctx context.Context, consumerID string) ([]sessionsvc.Session, error)
	GetProducerSessions(ctx context.Context, producerID string) ([]sessionsvc.Session, error)
	SubmitWebRtcStats(ctx context.Context, sessionID string, req *sessionsvc.SubmitWebRtcStatsRequest) error
}

// SessionManager keeps a local cache of upstream sessions and orders the
// lifecycle calls against the session service.
//
// The upstream is authoritative. The cache only exists to avoid re-fetching a
// session for every relayed frame, plus it carries the local `ending` flag
// that coordinates two-sided teardown.
type SessionManager struct {
	svc SessionService
	log *slog.Logger

	mu    sync.Mutex
	cache map[string]*sessionsvc.Session
}

func NewSessionManager(svc SessionService, log *slog.Logger) *SessionManager {
	if log == nil {
		log = slog.Default()
	}
	return &SessionManager{
		svc:   svc,
		log:   log.With(slog.String("component", "sessions")),
		cache: make(map[string]*sessionsvc.Session),
	}
}

// CreateSession asks the upstream to schedule a new app session for the
// consumer. The response is a creation ack only; the session is fetched and
// cached lazily on first read.
func (m *SessionManager) CreateSession(ctx context.Context, peer *Peer, req *CreateSessionRequest) (*sessionsvc.CreateSessionResponse, error) {
	if peer.Role != RoleConsumer {
		return nil, errOp("only consumers can run apps")
	}
	if !peer.HasUserID {
		return nil, errOp("user_id is undefined")
	}

	res, err := m.svc.CreateSession(ctx, &sessionsvc.CreateSessionRequest{
		AppReleaseUUID: req.AppReleaseUUID,
		PreferredDCs:   req.PreferredDCs,
		UserID:         peer.UserID,
		WsConn: sessionsvc.CreateSessionWsConn{
			ID:         peer.WSConnID,
			ConsumerID: peer.ID,
		},
	})
	if err != nil {
		return nil, errFromUpstream(err)
	}
	return res, nil
}

// StartSession attaches the producer to the session upstream, then refreshes
// the cache so subsequent reads observe the new status and ws_conn.
func (m *SessionManager) StartSession(ctx context.Context, sessionID, wsConnID, producerID, consumerID string) error {
	err := m.svc.StartSession(ctx, sessionID, &sessionsvc.StartSessionRequest{
		WsConn: sessionsvc.WsConn{
			ID:         wsConnID,
			ConsumerID: consumerID,
			ProducerID: producerID,
		},
	})
	if err != nil {
		return errFromUpstream(err)
	}

	m.invalidate(sessionID)
	if _, err := m.GetSession(ctx, sessionID); err != nil {
		m.log.Warn("session refresh after start failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
	}
	return nil
}

func (m *SessionManager) PauseSession(ctx context.Context, sessionID string) error {
	if err := m.svc.PauseSession(ctx, sessionID); err != nil {
		return errFromUpstream(err)
	}
	m.invalidate(sessionID)
	return nil
}

func (m *SessionManager) CloseSession(ctx context.Context, sessionID string) error {
	if err := m.svc.CloseSession(ctx, sessionID); err != nil {
		return errFromUpstream(err)
	}
	m.invalidate(sessionID)
	return nil
}

// GetSession returns a copy of the session, consulting the cache first. A
// session unknown to the upstream yields (nil, nil).
func (m *SessionManager) GetSession(ctx context.Context, sessionID string) (*sessionsvc.Session, error) {
	m.mu.Lock()
	if s, ok := m.cache[sessionID]; ok {
		cp := *s
		m.mu.Unlock()
		return &cp, nil
	}
	m.mu.Unlock()

	s, err := m.svc.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sessionsvc.ErrSessionNotFound) {
			m.log.Warn("session not found", slog.String("session_id", sessionID))
			return nil, nil
		}
		return nil, errFromUpstream(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// The ending flag is local and sticky; a concurrent reload must not
	// resurrect a session that is already being torn down.
	if old, ok := m.cache[sessionID]; ok {
		s.Ending = old.Ending
	}
	m.cache[sessionID] = s
	cp := *s
	return &cp, nil
}

// BeginEnding atomically marks the cached session as ending. It reports false
// when the session is not cached or a previous caller already marked it,
// which makes it the arbiter for the at-most-once teardown rule.
func (m *SessionManager) BeginEnding(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.cache[sessionID]
	if !ok {
		m.log.Error("begin ending: session not cached", slog.String("session_id", sessionID))
		return false
	}
	if s.Ending {
		return false
	}
	s.Ending = true
	return true
}

func (m *SessionManager) GetUserSessions(ctx context.Context, userID int64) ([]sessionsvc.Session, error) {
	res, err := m.svc.GetUserSessions(ctx, userID)
	if err != nil {
		return nil, errFromUpstream(err)
	}
	return res, nil
}

func (m *SessionManager) GetConsumerSessions(ctx context.Context, consumerID string) ([]sessionsvc.Session, error) {
	res, err := m.svc.GetConsumerSessions(ctx, consumerID)
	if err != nil {
		return nil, errFromUpstream(err)
	}
	return res, nil
}

func (m *SessionManager) GetProducerSessions(ctx context.Context, producerID string) ([]sessionsvc.Session, error) {
	res, err := m.svc.GetProducerSessions(ctx, producerID)
	if err != nil {
		return nil, errFromUpstream(err)
	}
	return res, nil
}

// GetPeerSessions fetches the live sessions the peer participates in,
// consumer or producer side depending on its role.
func (m *SessionManager) GetPeerSessions(ctx context.Context, peer *Peer) ([]sessionsvc.Session, error) {
	switch peer.Role {
	case RoleConsumer:
		return m.GetConsumerSessions(ctx, peer.ID)
	case RoleProducer:
		return m.GetProducerSessions(ctx, peer.ID)
	default:
		return nil, errUnknownPeer("unknown peer role: %s", peer.Role)
	}
}

func (m *SessionManager) SubmitWebRtcStats(ctx context.Context, sessionID, stats string) error {
	err := m.svc.SubmitWebRtcStats(ctx, sessionID, &sessionsvc.SubmitWebRtcStatsRequest{Stats: stats})
	if err != nil {
		return errFromUpstream(err)
	}
	return nil
}

func (m *SessionManager) invalidate(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, sessionID)
}

// otherPeerID resolves the counterpart of peerID within the session's
// ws_conn pair.
func otherPeerID(s *sessionsvc.Session, peerID string) (string, error) {
	switch peerID {
	case s.WsConn.ConsumerID:
		return s.WsConn.ProducerID, nil
	case s.WsConn.ProducerID:
		return s.WsConn.ConsumerID, nil
	default:
		return "", errUnknownPeer("invalid peer_id: %s", peerID)
	}
}
