package broker

import (
	"errors"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/sessionsvc"
)

// Wire error codes. Numeric values are part of the client protocol.
const (
	codeRequestValidation = 1400
	codeUnknownPeer       = 1404
	codeSigsvcOp          = 1409
	codeSessionSvc        = 1409
	codeSessionsQuota     = 1429
)

// BizError is an error that is reported to the client as an error frame
// while keeping the connection alive.
type BizError struct {
	Code    int
	Message string
}

func (e *BizError) Error() string {
	return fmt.Sprintf("biz error %d: %s", e.Code, e.Message)
}

func errValidation(format string, args ...any) *BizError {
	return &BizError{Code: codeRequestValidation, Message: fmt.Sprintf(format, args...)}
}

func errUnknownPeer(format string, args ...any) *BizError {
	return &BizError{Code: codeUnknownPeer, Message: fmt.Sprintf(format, args...)}
}

func errOp(format string, args ...any) *BizError {
	return &BizError{Code: codeSigsvcOp, Message: fmt.Sprintf(format, args...)}
}

// errFromUpstream classifies a session service failure. Quota rejections keep
// their upstream code so the client can distinguish them; everything else
// becomes a generic session service error.
func errFromUpstream(err error) *BizError {
	var be *BizError
	if errors.As(err, &be) {
		return be
	}

	var ue *sessionsvc.UpstreamError
	if errors.As(err, &ue) {
		msg, _ := ue.Payload["message"].(string)
		if ue.Code == codeSessionsQuota {
			if msg == "" {
				msg = "sessions quota limit exceeded for user"
			}
			return &BizError{Code: codeSessionsQuota, Message: msg}
		}
		if msg == "" {
			msg = "sessionsvc error"
		}
		return &BizError{Code: codeSessionSvc, Message: msg}
	}

	return &BizError{Code: codeSessionSvc, Message: "sessionsvc error"}
}
