// Package auth implements the WebSocket handshake authentication gate.
//
// Two credential modes are accepted:
//   - producers present the shared AUTH_TOKEN secret in the sigsvc_authtoken
//     cookie;
//   - consumers present a signed Flask browser session cookie ("session"),
//     verified against FLASK_SECRET_KEY.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/config"
)

const (
	AuthTokenCookieName = "sigsvc_authtoken"
	SessionCookieName   = "session"
	WSConnIDCookieName  = "sigsvc_wsconnid"

	UserIDHeaderName = "X-Auth-UID"
)

// Denial is an HTTP response that replaces the WebSocket upgrade when the
// handshake is rejected.
type Denial struct {
	Status int
	Body   string
}

var (
	denialInvalidToken = &Denial{Status: http.StatusUnauthorized, Body: "Invalid auth token\n"}
	denialMissingToken = &Denial{Status: http.StatusUnauthorized, Body: "Missing auth token\n"}
)

// Gate evaluates handshake credentials. Check is a pure function of the
// request's cookie jar and the configured secrets.
type Gate struct {
	debugNoAuth bool
	authToken   string
	sessions    *SessionVerifier
}

func NewGate(cfg config.Config) *Gate {
	return &Gate{
		debugNoAuth: cfg.DebugNoAuth,
		authToken:   cfg.AuthToken,
		sessions:    NewSessionVerifier(cfg.FlaskSecretKey, cfg.FlaskSessionLifetime),
	}
}

// Check returns nil to allow the upgrade, or a Denial describing the HTTP
// response that must be sent instead.
func (g *Gate) Check(r *http.Request) *Denial {
	if g.debugNoAuth {
		return nil
	}
	if c, err := r.Cookie(AuthTokenCookieName); err == nil {
		if subtle.ConstantTimeCompare([]byte(c.Value), []byte(g.authToken)) == 1 {
			return nil
		}
		return denialInvalidToken
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		if _, err := g.sessions.UserID(c.Value); err != nil {
			return denialInvalidToken
		}
		return nil
	}
	return denialMissingToken
}

// SessionVerifier exposes the gate's cookie verifier so the same instance can
// back consumer identity extraction.
func (g *Gate) SessionVerifier() *SessionVerifier {
	return g.sessions
}
