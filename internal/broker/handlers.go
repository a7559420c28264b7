package broker

import (
	"context"
	"log/slog"
	"slices"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/sessionsvc"
)

func (s *Server) handleSetPeerStatus(peer *Peer, req *SetPeerStatusRequest) error {
	var role Role
	switch {
	case slices.Contains(req.Roles, "listener"):
		role = RoleConsumer
	case slices.Contains(req.Roles, "producer"):
		role = RoleProducer
	default:
		return errValidation("unknown peer role: %v", req.Roles)
	}
	if peer.Role != RoleUnset && peer.Role != role {
		return errValidation("peer role is already set to %s", peer.Role)
	}

	peer.Meta = req.Meta
	peer.Role = role

	res := &PeerStatusResponse{
		Type:   TypePeerStatusChanged,
		Roles:  req.Roles,
		Meta:   peer.Meta,
		PeerID: peer.ID,
	}

	if role == RoleProducer {
		// The producer has a stream prepared for a specific consumer. Record
		// the pairing and, if that consumer is already connected, let it know
		// right away. Otherwise it will discover the producer via list().
		if consumerID, ok := peer.Meta["consumerId"].(string); ok && consumerID != "" {
			s.registry.SetProducerFor(consumerID, peer.ID)
			if consumer, ok := s.registry.Get(consumerID); ok {
				if err := consumer.Send(res); err != nil {
					s.log.Warn("notify consumer of producer",
						slog.String("consumer_id", consumerID),
						slog.Any("error", err))
				}
			}
		}
	}

	return peer.Send(res)
}

func (s *Server) handleList(peer *Peer) error {
	res := &ListResponse{Type: TypeList, Producers: []ListProducer{}}
	if producerID, ok := s.registry.ProducerFor(peer.ID); ok {
		if producer, live := s.registry.Get(producerID); live {
			res.Producers = append(res.Producers, ListProducer{ID: producerID, Meta: producer.Meta})
		}
	}
	return peer.Send(res)
}

func (s *Server) handleCreateSession(ctx context.Context, peer *Peer, req *CreateSessionRequest) error {
	res, err := s.sessions.CreateSession(ctx, peer, req)
	if err != nil {
		return err
	}
	s.metrics.Inc(metrics.SessionsCreated)
	return peer.Send(&SessionCreatedResponse{Type: TypeSessionCreated, SessionID: res.SessionID})
}

func (s *Server) handleStartSession(ctx context.Context, consumer *Peer, req *StartSessionRequest) error {
	producer, ok := s.registry.Get(req.PeerID)
	if !ok {
		return errUnknownPeer("producer peer (id: %s) is unknown", req.PeerID)
	}

	if err := s.sessions.StartSession(ctx, req.SessionID, consumer.WSConnID, producer.ID, consumer.ID); err != nil {
		return err
	}
	s.metrics.Inc(metrics.SessionsStarted)

	if err := producer.Send(&StartSessionFrame{
		Type:      TypeStartSession,
		PeerID:    consumer.ID,
		SessionID: req.SessionID,
	}); err != nil {
		s.log.Warn("start session: notify producer",
			slog.String("producer_id", producer.ID),
			slog.Any("error", err))
	}
	return consumer.Send(&SessionStartedFrame{
		Type:      TypeSessionStarted,
		PeerID:    producer.ID,
		SessionID: req.SessionID,
	})
}

// handlePeerFrame forwards an opaque negotiation frame to the counterpart of
// the session, byte for byte.
func (s *Server) handlePeerFrame(ctx context.Context, peer *Peer, raw []byte, sessionID string) error {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		s.log.Error("peer frame: load session",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
		return nil
	}
	if session == nil {
		s.log.Error("peer frame: session not found", slog.String("session_id", sessionID))
		return nil
	}

	otherID, err := otherPeerID(session, peer.ID)
	if err != nil {
		return err
	}
	if otherID == "" {
		return nil
	}
	other, ok := s.registry.Get(otherID)
	if !ok {
		return nil
	}
	if err := other.SendRaw(raw); err != nil {
		s.log.Warn("peer frame: relay",
			slog.String("to", otherID),
			slog.Any("error", err))
		return nil
	}
	s.metrics.Inc(metrics.FramesRelayed)
	return nil
}

// handleEndSession drives the two-sided teardown of a session.
//
// It is reached on two paths: directly from a client request (the sender is
// still registered) and indirectly from the disconnect procedure (the sender
// was just removed). The ending flag plus eviction of the counterpart peer
// guarantee at most one upstream pause/close per session.
func (s *Server) handleEndSession(ctx context.Context, peer *Peer, req *EndSessionRequest) error {
	direct := s.registry.Has(peer.ID)

	session, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		s.log.Error("end session: load session",
			slog.String("session_id", req.SessionID),
			slog.Any("error", err))
		return nil
	}
	if session == nil || !s.sessions.BeginEnding(session.ID) {
		// The other peer has ended or is ending the session.
		if direct && peer.Role == RoleConsumer {
			// Only consumers explicitly calling endSession expect the ack.
			return peer.Send(&SessionEndedResponse{Type: TypeSessionEnded, SessionID: req.SessionID})
		}
		return nil
	}

	otherID, err := otherPeerID(session, peer.ID)
	if err != nil {
		// A third peer trying to stop an orphaned session between two others.
		s.log.Error("end session: resolve counterpart",
			slog.String("session_id", session.ID),
			slog.Any("error", err))
	} else if otherID != "" {
		if other, ok := s.registry.Get(otherID); ok {
			frame := &EndSessionRequest{Type: TypeEndSession, SessionID: req.SessionID, Soft: req.Soft}
			if err := other.Send(frame); err != nil {
				s.log.Warn("end session: notify counterpart",
					slog.String("to", otherID),
					slog.Any("error", err))
			}
			// Evicting the counterpart makes its own disconnect a no-op.
			s.registry.Remove(otherID)
		}
	}

	if req.Soft {
		s.log.Debug("pausing session", slog.String("session_id", session.ID))
		err = s.sessions.PauseSession(ctx, session.ID)
		if err == nil {
			s.metrics.Inc(metrics.SessionsPaused)
		}
	} else {
		s.log.Debug("closing session", slog.String("session_id", session.ID))
		err = s.sessions.CloseSession(ctx, session.ID)
		if err == nil {
			s.metrics.Inc(metrics.SessionsClosed)
		}
	}
	if err != nil {
		return err
	}

	if direct && peer.Role == RoleConsumer {
		return peer.Send(&SessionEndedResponse{Type: TypeSessionEnded, SessionID: session.ID})
	}
	return nil
}

func (s *Server) handleGetSessions(ctx context.Context, peer *Peer) error {
	var (
		sessions []sessionsvc.Session
		err      error
	)
	switch peer.Role {
	case RoleConsumer:
		sessions, err = s.sessions.GetUserSessions(ctx, peer.UserID)
	case RoleProducer:
		sessions, err = s.sessions.GetProducerSessions(ctx, peer.ID)
	default:
		return errValidation("unknown peer role: %s", peer.Role)
	}
	if err != nil {
		return err
	}
	if sessions == nil {
		sessions = []sessionsvc.Session{}
	}
	return peer.Send(&SessionsListResponse{Type: TypeSessionsList, Sessions: sessions})
}

func (s *Server) handleGetSession(ctx context.Context, peer *Peer, req *GetSessionRequest) error {
	session, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return peer.SendRaw([]byte("{}"))
	}
	return peer.Send(&SessionResponse{Type: TypeSession, Session: session})
}

func (s *Server) handleSubmitWebRtcStats(ctx context.Context, req *SubmitWebRtcStatsRequest) error {
	return s.sessions.SubmitWebRtcStats(ctx, req.SessionID, req.Stats)
}
