package broker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/sessionsvc"
)

// stubSvc is an in-memory SessionService for unit tests.
type stubSvc struct {
	mu sync.Mutex

	sessions map[string]sessionsvc.Session

	getCalls   int
	pauseCalls []string
	closeCalls []string

	lastCreate *sessionsvc.CreateSessionRequest
	createErr  error
}

func newStubSvc() *stubSvc {
	return &stubSvc{sessions: make(map[string]sessionsvc.Session)}
}

func (s *stubSvc) CreateSession(_ context.Context, req *sessionsvc.CreateSessionRequest) (*sessionsvc.CreateSessionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCreate = req
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &sessionsvc.CreateSessionResponse{SessionID: "S1"}, nil
}

func (s *stubSvc) StartSession(context.Context, string, *sessionsvc.StartSessionRequest) error {
	return nil
}

func (s *stubSvc) PauseSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseCalls = append(s.pauseCalls, id)
	return nil
}

func (s *stubSvc) CloseSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls = append(s.closeCalls, id)
	return nil
}

func (s *stubSvc) GetSession(_ context.Context, id string) (*sessionsvc.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	sess, ok := s.sessions[id]
	if !ok {
		return nil, sessionsvc.ErrSessionNotFound
	}
	cp := sess
	return &cp, nil
}

func (s *stubSvc) GetUserSessions(context.Context, int64) ([]sessionsvc.Session, error) {
	return nil, nil
}

func (s *stubSvc) GetConsumerSessions(context.Context, string) ([]sessionsvc.Session, error) {
	return nil, nil
}

func (s *stubSvc) GetProducerSessions(context.Context, string) ([]sessionsvc.Session, error) {
	return nil, nil
}

func (s *stubSvc) SubmitWebRtcStats(context.Context, string, *sessionsvc.SubmitWebRtcStatsRequest) error {
	return nil
}

func TestSessionManager_GetSessionCaches(t *testing.T) {
	svc := newStubSvc()
	svc.sessions["S1"] = sessionsvc.Session{ID: "S1", Status: sessionsvc.StatusActive}
	m := NewSessionManager(svc, nil)

	ctx := context.Background()
	s1, err := m.GetSession(ctx, "S1")
	if err != nil || s1 == nil || s1.ID != "S1" {
		t.Fatalf("first GetSession: %v, %v", s1, err)
	}
	s2, err := m.GetSession(ctx, "S1")
	if err != nil || s2 == nil {
		t.Fatalf("second GetSession: %v, %v", s2, err)
	}
	if svc.getCalls != 1 {
		t.Fatalf("getCalls=%d, want 1 (cache hit)", svc.getCalls)
	}
}

func TestSessionManager_GetSessionNotFound(t *testing.T) {
	m := NewSessionManager(newStubSvc(), nil)
	s, err := m.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s != nil {
		t.Fatalf("want nil session, got %+v", s)
	}
}

func TestSessionManager_BeginEndingOnce(t *testing.T) {
	svc := newStubSvc()
	svc.sessions["S1"] = sessionsvc.Session{ID: "S1"}
	m := NewSessionManager(svc, nil)

	if m.BeginEnding("S1") {
		t.Fatal("uncached session: want false")
	}

	if _, err := m.GetSession(context.Background(), "S1"); err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !m.BeginEnding("S1") {
		t.Fatal("first BeginEnding: want true")
	}
	if m.BeginEnding("S1") {
		t.Fatal("second BeginEnding: want false")
	}

	s, err := m.GetSession(context.Background(), "S1")
	if err != nil || s == nil {
		t.Fatalf("GetSession after ending: %v, %v", s, err)
	}
	if !s.Ending {
		t.Fatal("cached session should report ending")
	}
}

func TestSessionManager_PauseInvalidatesCache(t *testing.T) {
	svc := newStubSvc()
	svc.sessions["S1"] = sessionsvc.Session{ID: "S1", Status: sessionsvc.StatusActive}
	m := NewSessionManager(svc, nil)

	ctx := context.Background()
	if _, err := m.GetSession(ctx, "S1"); err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if err := m.PauseSession(ctx, "S1"); err != nil {
		t.Fatalf("PauseSession: %v", err)
	}
	if len(svc.pauseCalls) != 1 || svc.pauseCalls[0] != "S1" {
		t.Fatalf("pauseCalls=%v", svc.pauseCalls)
	}

	if _, err := m.GetSession(ctx, "S1"); err != nil {
		t.Fatalf("GetSession after pause: %v", err)
	}
	if svc.getCalls != 2 {
		t.Fatalf("getCalls=%d, want 2 (cache invalidated)", svc.getCalls)
	}
}

func TestSessionManager_CreateSessionAsserts(t *testing.T) {
	svc := newStubSvc()
	m := NewSessionManager(svc, nil)
	ctx := context.Background()
	req := &CreateSessionRequest{AppReleaseUUID: "APP-1", PreferredDCs: []string{"fra"}}

	var be *BizError

	_, err := m.CreateSession(ctx, &Peer{ID: "p1", Role: RoleProducer}, req)
	if !errors.As(err, &be) || be.Code != codeSigsvcOp {
		t.Fatalf("producer create: %v", err)
	}

	_, err = m.CreateSession(ctx, &Peer{ID: "c1", Role: RoleConsumer}, req)
	if !errors.As(err, &be) || be.Code != codeSigsvcOp {
		t.Fatalf("consumer without user id: %v", err)
	}

	consumer := &Peer{ID: "c1", Role: RoleConsumer, WSConnID: "abc", UserID: 42, HasUserID: true}
	res, err := m.CreateSession(ctx, consumer, req)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if res.SessionID != "S1" {
		t.Errorf("SessionID=%q", res.SessionID)
	}
	got := svc.lastCreate
	if got.AppReleaseUUID != "APP-1" || got.UserID != 42 ||
		got.WsConn.ID != "abc" || got.WsConn.ConsumerID != "c1" {
		t.Errorf("create request: %+v", got)
	}
}

func TestSessionManager_QuotaErrorSurfaced(t *testing.T) {
	svc := newStubSvc()
	svc.createErr = &sessionsvc.UpstreamError{
		Status:  409,
		Code:    1429,
		Payload: map[string]any{"code": float64(1429), "message": "sessions quota limit exceeded for user"},
	}
	m := NewSessionManager(svc, nil)

	consumer := &Peer{ID: "c1", Role: RoleConsumer, WSConnID: "abc", UserID: 42, HasUserID: true}
	_, err := m.CreateSession(context.Background(), consumer, &CreateSessionRequest{AppReleaseUUID: "APP-1"})

	var be *BizError
	if !errors.As(err, &be) {
		t.Fatalf("want BizError, got %v", err)
	}
	if be.Code != codeSessionsQuota {
		t.Errorf("Code=%d, want %d", be.Code, codeSessionsQuota)
	}
}

func TestSessionManager_GetPeerSessions(t *testing.T) {
	m := NewSessionManager(newStubSvc(), nil)
	ctx := context.Background()

	if _, err := m.GetPeerSessions(ctx, &Peer{ID: "c1", Role: RoleConsumer}); err != nil {
		t.Errorf("consumer: %v", err)
	}
	if _, err := m.GetPeerSessions(ctx, &Peer{ID: "p1", Role: RoleProducer}); err != nil {
		t.Errorf("producer: %v", err)
	}
	var be *BizError
	if _, err := m.GetPeerSessions(ctx, &Peer{ID: "x"}); !errors.As(err, &be) || be.Code != codeUnknownPeer {
		t.Errorf("unset role: %v", err)
	}
}

func TestOtherPeerID(t *testing.T) {
	s := &sessionsvc.Session{WsConn: sessionsvc.WsConn{ConsumerID: "c1", ProducerID: "p1"}}

	if id, err := otherPeerID(s, "c1"); err != nil || id != "p1" {
		t.Errorf("consumer side: %q, %v", id, err)
	}
	if id, err := otherPeerID(s, "p1"); err != nil || id != "c1" {
		t.Errorf("producer side: %q, %v", id, err)
	}
	var be *BizError
	if _, err := otherPeerID(s, "zz"); !errors.As(err, &be) || be.Code != codeUnknownPeer {
		t.Errorf("third party: %v", err)
	}

	pending := &sessionsvc.Session{WsConn: sessionsvc.WsConn{ConsumerID: "c1"}}
	if id, err := otherPeerID(pending, "c1"); err != nil || id != "" {
		t.Errorf("no producer yet: %q, %v", id, err)
	}
}
