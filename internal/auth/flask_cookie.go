package auth

import (
	"bytes"
	"compress/zlib"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadSignature = errors.New("bad signature")
	// ErrSignatureExpired wraps ErrBadSignature: an expired cookie is rejected
	// the same way a forged one is.
	ErrSignatureExpired = fmt.Errorf("%w: signature expired", ErrBadSignature)
)

const (
	// Flask derives the session signing key from SECRET_KEY with this salt,
	// HMAC key derivation and SHA-1. Values must stay in sync with
	// flask/sessions.py for the cookies to remain interoperable.
	flaskSigningSalt = "cookie-session"

	hmacSHA1SigLen = 20

	maxSessionCookieLen = 8 * 1024
)

// SessionVerifier validates legacy Flask browser session cookies: an
// itsdangerous URLSafeTimedSerializer token of the form
//
//	payload "." base64(timestamp) "." base64(hmac-sha1 signature)
//
// where payload is base64url(JSON), optionally zlib-compressed (marked by a
// leading "."). Verification is a pure function of the token, the configured
// secret and the clock.
type SessionVerifier struct {
	key    []byte
	maxAge time.Duration
	now    func() time.Time
}

func NewSessionVerifier(secret string, maxAge time.Duration) *SessionVerifier {
	mac := hmac.New(sha1.New, []byte(secret))
	_, _ = mac.Write([]byte(flaskSigningSalt))
	return &SessionVerifier{
		key:    mac.Sum(nil),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Verify checks the cookie's signature and age and returns the decoded
// session mapping.
func (v *SessionVerifier) Verify(token string) (map[string]any, error) {
	if token == "" || len(token) > maxSessionCookieLen {
		return nil, ErrBadSignature
	}

	signed, sigB64, ok := rsplitDot(token)
	if !ok {
		return nil, ErrBadSignature
	}
	payloadB64, tsB64, ok := rsplitDot(signed)
	if !ok {
		return nil, ErrBadSignature
	}

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil || len(sig) != hmacSHA1SigLen {
		return nil, ErrBadSignature
	}

	mac := hmac.New(sha1.New, v.key)
	_, _ = mac.Write([]byte(signed))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, ErrBadSignature
	}

	tsBytes, err := base64.RawURLEncoding.DecodeString(tsB64)
	if err != nil || len(tsBytes) == 0 || len(tsBytes) > 8 {
		return nil, ErrBadSignature
	}
	var ts int64
	for _, b := range tsBytes {
		ts = ts<<8 | int64(b)
	}
	if v.maxAge > 0 {
		age := v.now().Unix() - ts
		if age > int64(v.maxAge/time.Second) {
			return nil, ErrSignatureExpired
		}
	}

	payload, err := decodePayload(payloadB64)
	if err != nil {
		return nil, ErrBadSignature
	}

	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrBadSignature
	}
	return claims, nil
}

// UserID verifies the cookie and extracts the `_user_id` claim set by
// flask-login. The claim is a string in current cookies but older ones carry
// a bare integer.
func (v *SessionVerifier) UserID(token string) (int64, error) {
	claims, err := v.Verify(token)
	if err != nil {
		return 0, err
	}
	raw, ok := claims["_user_id"]
	if !ok {
		return 0, fmt.Errorf("%w: no _user_id claim", ErrBadSignature)
	}
	switch x := raw.(type) {
	case string:
		id, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: malformed _user_id claim", ErrBadSignature)
		}
		return id, nil
	case float64:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("%w: malformed _user_id claim", ErrBadSignature)
	}
}

// rsplitDot splits s at its last '.', mirroring itsdangerous, which splits
// from the right because the payload itself may contain dots.
func rsplitDot(s string) (left, right string, ok bool) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

func decodePayload(payloadB64 string) ([]byte, error) {
	compressed := false
	if strings.HasPrefix(payloadB64, ".") {
		compressed = true
		payloadB64 = payloadB64[1:]
	}
	raw, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, err
	}
	if !compressed {
		return raw, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, maxSessionCookieLen))
}
