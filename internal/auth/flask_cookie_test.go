package auth

import (
	"bytes"
	"compress/zlib"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

const testSecret = "test-flask-secret"

// mintCookie produces an itsdangerous URLSafeTimedSerializer token the way
// Flask's session interface does, so verification is exercised against the
// real wire format.
func mintCookie(t *testing.T, secret string, claims map[string]any, issued time.Time, compress bool) string {
	t.Helper()

	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}

	payloadB64 := base64.RawURLEncoding.EncodeToString(payload)
	if compress {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			t.Fatalf("compress payload: %v", err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("close zlib writer: %v", err)
		}
		payloadB64 = "." + base64.RawURLEncoding.EncodeToString(buf.Bytes())
	}

	ts := issued.Unix()
	var tsBytes []byte
	for v := ts; v > 0; v >>= 8 {
		tsBytes = append([]byte{byte(v)}, tsBytes...)
	}
	signed := payloadB64 + "." + base64.RawURLEncoding.EncodeToString(tsBytes)

	keyMAC := hmac.New(sha1.New, []byte(secret))
	keyMAC.Write([]byte(flaskSigningSalt))
	mac := hmac.New(sha1.New, keyMAC.Sum(nil))
	mac.Write([]byte(signed))

	return signed + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestSessionVerifier_Verify(t *testing.T) {
	v := NewSessionVerifier(testSecret, time.Hour)

	t.Run("valid cookie", func(t *testing.T) {
		token := mintCookie(t, testSecret, map[string]any{"_user_id": "42", "_fresh": true}, time.Now(), false)
		claims, err := v.Verify(token)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if claims["_user_id"] != "42" {
			t.Errorf("_user_id=%v, want %q", claims["_user_id"], "42")
		}
	})

	t.Run("compressed payload", func(t *testing.T) {
		token := mintCookie(t, testSecret, map[string]any{"_user_id": "42"}, time.Now(), true)
		claims, err := v.Verify(token)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if claims["_user_id"] != "42" {
			t.Errorf("_user_id=%v, want %q", claims["_user_id"], "42")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := mintCookie(t, "other-secret", map[string]any{"_user_id": "42"}, time.Now(), false)
		if _, err := v.Verify(token); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("err=%v, want ErrBadSignature", err)
		}
	})

	t.Run("tampered payload", func(t *testing.T) {
		token := mintCookie(t, testSecret, map[string]any{"_user_id": "42"}, time.Now(), false)
		tampered := "x" + token
		if _, err := v.Verify(tampered); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("err=%v, want ErrBadSignature", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		short := NewSessionVerifier(testSecret, time.Minute)
		token := mintCookie(t, testSecret, map[string]any{"_user_id": "42"}, time.Now().Add(-2*time.Minute), false)
		if _, err := short.Verify(token); !errors.Is(err, ErrSignatureExpired) {
			t.Fatalf("err=%v, want ErrSignatureExpired", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		for _, token := range []string{"", ".", "..", ".abc", "only-one-part", "a.b", "a.b.c"} {
			if _, err := v.Verify(token); !errors.Is(err, ErrBadSignature) {
				t.Errorf("Verify(%q) err=%v, want ErrBadSignature", token, err)
			}
		}
	})
}

func TestSessionVerifier_UserID(t *testing.T) {
	v := NewSessionVerifier(testSecret, time.Hour)

	t.Run("string claim", func(t *testing.T) {
		token := mintCookie(t, testSecret, map[string]any{"_user_id": "1007"}, time.Now(), false)
		id, err := v.UserID(token)
		if err != nil {
			t.Fatalf("UserID: %v", err)
		}
		if id != 1007 {
			t.Errorf("id=%d, want 1007", id)
		}
	})

	t.Run("numeric claim", func(t *testing.T) {
		token := mintCookie(t, testSecret, map[string]any{"_user_id": 7}, time.Now(), false)
		id, err := v.UserID(token)
		if err != nil {
			t.Fatalf("UserID: %v", err)
		}
		if id != 7 {
			t.Errorf("id=%d, want 7", id)
		}
	})

	t.Run("missing claim", func(t *testing.T) {
		token := mintCookie(t, testSecret, map[string]any{"_fresh": true}, time.Now(), false)
		if _, err := v.UserID(token); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("err=%v, want ErrBadSignature", err)
		}
	})
}
