// Package broker implements the WebRTC signaling broker: an authenticated
// WebSocket endpoint that pairs consumer and producer peers, relays their
// negotiation frames and drives session lifecycle against the upstream
// session service.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/ratelimit"
)

// disconnectTimeout bounds the upstream calls made while tearing down the
// sessions of a peer whose socket has already gone away.
const disconnectTimeout = 30 * time.Second

type ServerOptions struct {
	Gate      *auth.Gate
	Extractor auth.UserIDExtractor
	Sessions  *SessionManager
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// MaxMessageBytes caps a single inbound frame; larger frames kill the
	// connection. MessagesPerSecond is the per-peer token bucket rate; frames
	// over the rate are dropped.
	MaxMessageBytes   int64
	MessagesPerSecond int

	Clock ratelimit.Clock
}

// Server owns all broker state: the peer registry, the producer directory
// (inside the registry) and the session cache (inside the session manager).
// Handlers receive it explicitly; there are no package-level maps.
type Server struct {
	gate      *auth.Gate
	extractor auth.UserIDExtractor
	registry  *Registry
	sessions  *SessionManager
	metrics   *metrics.Metrics
	log       *slog.Logger

	maxMessageBytes   int64
	messagesPerSecond int
	clock             ratelimit.Clock

	upgrader websocket.Upgrader
}

func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 64 * 1024
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 50
	}
	if opts.Clock == nil {
		opts.Clock = ratelimit.RealClock{}
	}
	return &Server{
		gate:              opts.Gate,
		extractor:         opts.Extractor,
		registry:          NewRegistry(),
		sessions:          opts.Sessions,
		metrics:           opts.Metrics,
		log:               opts.Logger.With(slog.String("component", "broker")),
		maxMessageBytes:   opts.MaxMessageBytes,
		messagesPerSecond: opts.MessagesPerSecond,
		clock:             opts.Clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser consumers connect cross-origin through the platform
			// frontend; the cookie check is the actual gate.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Registry exposes the live peer registry, mainly for tests and readiness
// reporting.
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if denial := s.gate.Check(r); denial != nil {
		s.metrics.Inc(metrics.AuthFailure)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(denial.Status)
		_, _ = w.Write([]byte(denial.Body))
		return
	}

	wsConnID := ""
	if c, err := r.Cookie(auth.WSConnIDCookieName); err == nil {
		wsConnID = c.Value
	}

	userID, hasUserID, err := s.extractor.ExtractUserID(r)
	if err != nil {
		s.log.Warn("extract user id", slog.Any("error", err))
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Warn("websocket upgrade", slog.Any("error", err))
		return
	}
	s.metrics.Inc(metrics.WSConnections)

	peer := newPeer(uuid.NewString(), conn, wsConnID, userID, hasUserID, s.log)
	defer peer.Close()

	if wsConnID == "" {
		s.metrics.Inc(metrics.BadRequest)
		_ = peer.Send(&ErrorResponse{
			Type:    TypeError,
			Code:    codeRequestValidation,
			Message: "no " + auth.WSConnIDCookieName + " cookie found",
		})
		return
	}

	conn.SetReadLimit(s.maxMessageBytes)

	s.registry.Add(peer)
	defer s.handleDisconnect(peer)

	if err := peer.Send(&WelcomeResponse{Type: TypeWelcome, PeerID: peer.ID}); err != nil {
		s.log.Warn("send welcome", slog.String("peer_id", peer.ID), slog.Any("error", err))
		return
	}

	s.readLoop(r.Context(), peer)
}

func (s *Server) readLoop(ctx context.Context, peer *Peer) {
	rate := int64(s.messagesPerSecond)
	bucket := ratelimit.NewTokenBucket(s.clock, rate, rate)

	for {
		_, raw, err := peer.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("read frame", slog.String("peer_id", peer.ID), slog.Any("error", err))
			}
			return
		}
		peer.log.Debug("recv", slog.String("frame", string(raw)))

		if !bucket.Allow(1) {
			s.metrics.Inc(metrics.RateLimited)
			s.log.Warn("peer over message rate, dropping frame", slog.String("peer_id", peer.ID))
			continue
		}

		if err := s.dispatch(ctx, peer, raw); err != nil {
			var be *BizError
			if errors.As(err, &be) {
				s.metrics.Inc(metrics.BadRequest)
				s.log.Error("request failed",
					slog.String("peer_id", peer.ID),
					slog.Int("code", be.Code),
					slog.String("message", be.Message))
				if sendErr := peer.Send(&ErrorResponse{Type: TypeError, Code: be.Code, Message: be.Message}); sendErr != nil {
					return
				}
				continue
			}
			s.log.Error("handler error", slog.String("peer_id", peer.ID), slog.Any("error", err))
		}
	}
}

func (s *Server) dispatch(ctx context.Context, peer *Peer, raw []byte) error {
	var env requestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errValidation("malformed request: %v", err)
	}

	switch env.Type {
	case TypeSetPeerStatus:
		var req SetPeerStatusRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return errValidation("malformed %s request: %v", env.Type, err)
		}
		return s.handleSetPeerStatus(peer, &req)

	case TypeList:
		return s.handleList(peer)

	case TypeCreateSession:
		var req CreateSessionRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return errValidation("malformed %s request: %v", env.Type, err)
		}
		return s.handleCreateSession(ctx, peer, &req)

	case TypeStartSession:
		var req StartSessionRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return errValidation("malformed %s request: %v", env.Type, err)
		}
		return s.handleStartSession(ctx, peer, &req)

	case TypePeer:
		var req GetSessionRequest
		if err := json.Unmarshal(raw, &req); err != nil || req.SessionID == "" {
			return errValidation("malformed %s request", env.Type)
		}
		return s.handlePeerFrame(ctx, peer, raw, req.SessionID)

	case TypeEndSession:
		var req EndSessionRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return errValidation("malformed %s request: %v", env.Type, err)
		}
		return s.handleEndSession(ctx, peer, &req)

	case TypeGetSessions:
		return s.handleGetSessions(ctx, peer)

	case TypeGetSession:
		var req GetSessionRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return errValidation("malformed %s request: %v", env.Type, err)
		}
		return s.handleGetSession(ctx, peer, &req)

	case TypeSubmitWebRtcStats:
		var req SubmitWebRtcStatsRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return errValidation("malformed %s request: %v", env.Type, err)
		}
		return s.handleSubmitWebRtcStats(ctx, &req)

	default:
		return errValidation("unknown request type: %q", env.Type)
	}
}

// handleDisconnect runs exactly once when a peer's read loop exits. A peer
// that was already evicted by a terminating session is skipped; this also
// covers the stale connection left behind by a resumed container.
func (s *Server) handleDisconnect(peer *Peer) {
	if !s.registry.Remove(peer.ID) {
		s.log.Debug("disconnect for unregistered peer",
			slog.String("peer_id", peer.ID))
		return
	}
	s.metrics.Inc(metrics.PeerDisconnects)
	s.log.Info("peer disconnected",
		slog.String("peer_id", peer.ID),
		slog.String("role", peer.Role.String()))

	// The request context died with the socket.
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()

	peerSessions, err := s.sessions.GetPeerSessions(ctx, peer)
	if err != nil {
		s.log.Error("disconnect: fetch peer sessions",
			slog.String("peer_id", peer.ID),
			slog.Any("error", err))
		return
	}
	for _, sess := range peerSessions {
		// A consumer disconnect is recoverable (the container may be reused),
		// so pause. A producer disconnect means the container is gone: close.
		req := &EndSessionRequest{SessionID: sess.ID, Soft: peer.Role == RoleConsumer}
		if err := s.handleEndSession(ctx, peer, req); err != nil {
			s.log.Error("disconnect: end session",
				slog.String("session_id", sess.ID),
				slog.Any("error", err))
		}
	}
}
