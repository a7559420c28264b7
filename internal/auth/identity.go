package auth

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/config"
)

// UserIDExtractor resolves the numeric user id of a consumer handshake.
// Producers carry no user identity; extractors report ok=false for them.
//
// Two deployment variants exist: one re-verifies the browser session cookie
// itself, the other trusts the X-Auth-UID header stamped by an upstream
// authenticator.
type UserIDExtractor interface {
	ExtractUserID(r *http.Request) (userID int64, ok bool, err error)
}

func NewUserIDExtractor(cfg config.Config, verifier *SessionVerifier) UserIDExtractor {
	if cfg.UserIDSource == config.UserIDSourceHeader {
		return HeaderUserIDExtractor{}
	}
	return SessionCookieUserIDExtractor{Verifier: verifier}
}

// SessionCookieUserIDExtractor extracts the user id from the signed Flask
// session cookie.
type SessionCookieUserIDExtractor struct {
	Verifier *SessionVerifier
}

func (e SessionCookieUserIDExtractor) ExtractUserID(r *http.Request) (int64, bool, error) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return 0, false, nil
	}
	id, err := e.Verifier.UserID(c.Value)
	if err != nil {
		return 0, false, fmt.Errorf("verify session cookie: %w", err)
	}
	return id, true, nil
}

// HeaderUserIDExtractor trusts the X-Auth-UID request header.
type HeaderUserIDExtractor struct{}

func (HeaderUserIDExtractor) ExtractUserID(r *http.Request) (int64, bool, error) {
	raw := r.Header.Get(UserIDHeaderName)
	if raw == "" {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("malformed %s header %q", UserIDHeaderName, raw)
	}
	return id, true, nil
}
