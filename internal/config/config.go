package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenIP   = "LISTEN_IP"
	envVarListenPort = "LISTEN_PORT"

	envVarSessionSvcURL = "SESSIONSVC_URL"

	// Handshake credentials.
	envVarAuthToken            = "AUTH_TOKEN"
	envVarFlaskSecretKey       = "FLASK_SECRET_KEY"
	envVarFlaskSessionLifetime = "FLASK_PERMANENT_SESSION_LIFETIME"
	envVarDebugNoAuth          = "DEBUG_NO_AUTH"

	// Consumer identity extraction. "session" re-verifies the Flask session
	// cookie itself; "header" trusts X-Auth-UID set by an upstream authenticator.
	envVarUserIDSource = "USER_ID_SOURCE"

	envVarLogFormat       = "LOG_FORMAT"
	envVarLogLevel        = "LOG_LEVEL"
	envVarShutdownTimeout = "SHUTDOWN_TIMEOUT"

	// Inbound signaling hardening.
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	// Upstream session service HTTP knobs.
	envVarSessionSvcConnectTimeout    = "SESSIONSVC_CONNECT_TIMEOUT"
	envVarSessionSvcReadTimeout       = "SESSIONSVC_READ_TIMEOUT"
	envVarSessionSvcCreateReadTimeout = "SESSIONSVC_CREATE_READ_TIMEOUT"
	envVarSessionSvcRetryAttempts     = "SESSIONSVC_RETRY_ATTEMPTS"
)

const (
	DefaultListenIP   = "0.0.0.0"
	DefaultListenPort = "8080"

	// Matches Flask's PERMANENT_SESSION_LIFETIME default (31 days).
	DefaultFlaskSessionLifetime = 2678400 * time.Second

	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultSessionSvcConnectTimeout = 3 * time.Second
	DefaultSessionSvcReadTimeout    = 10 * time.Second
	// create_session waits for a container to boot upstream.
	DefaultSessionSvcCreateReadTimeout = 55 * time.Second
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type UserIDSource string

const (
	UserIDSourceSessionCookie UserIDSource = "session"
	UserIDSourceHeader        UserIDSource = "header"
)

type Config struct {
	ListenAddr string

	SessionSvcURL string

	AuthToken            string
	FlaskSecretKey       string
	FlaskSessionLifetime time.Duration
	DebugNoAuth          bool

	UserIDSource UserIDSource

	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	SessionSvcConnectTimeout    time.Duration
	SessionSvcReadTimeout       time.Duration
	SessionSvcCreateReadTimeout time.Duration
	SessionSvcRetryAttempts     int
}

func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	listenIP := envOrDefault(lookup, envVarListenIP, DefaultListenIP)
	listenPort := envOrDefault(lookup, envVarListenPort, DefaultListenPort)

	sessionSvcURL := envOrDefault(lookup, envVarSessionSvcURL, "")
	if sessionSvcURL == "" {
		return Config{}, fmt.Errorf("%s is required", envVarSessionSvcURL)
	}
	u, err := url.Parse(sessionSvcURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("invalid %s %q (expected http(s) URL)", envVarSessionSvcURL, sessionSvcURL)
	}
	sessionSvcURL = strings.TrimRight(sessionSvcURL, "/")

	debugNoAuth := false
	if raw, ok := lookup(envVarDebugNoAuth); ok && strings.TrimSpace(raw) != "" {
		debugNoAuth = strings.EqualFold(strings.TrimSpace(raw), "true")
	}

	authToken := envOrDefault(lookup, envVarAuthToken, "")
	flaskSecretKey := envOrDefault(lookup, envVarFlaskSecretKey, "")
	if !debugNoAuth {
		if authToken == "" {
			return Config{}, fmt.Errorf("%s is required unless %s=true", envVarAuthToken, envVarDebugNoAuth)
		}
		if flaskSecretKey == "" {
			return Config{}, fmt.Errorf("%s is required unless %s=true", envVarFlaskSecretKey, envVarDebugNoAuth)
		}
	}

	flaskSessionLifetime := DefaultFlaskSessionLifetime
	if raw, ok := lookup(envVarFlaskSessionLifetime); ok && strings.TrimSpace(raw) != "" {
		secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || secs <= 0 {
			return Config{}, fmt.Errorf("invalid %s %q (expected seconds)", envVarFlaskSessionLifetime, raw)
		}
		flaskSessionLifetime = time.Duration(secs) * time.Second
	}

	userIDSource := UserIDSourceSessionCookie
	if raw, ok := lookup(envVarUserIDSource); ok && strings.TrimSpace(raw) != "" {
		switch UserIDSource(strings.TrimSpace(raw)) {
		case UserIDSourceSessionCookie:
			userIDSource = UserIDSourceSessionCookie
		case UserIDSourceHeader:
			userIDSource = UserIDSourceHeader
		default:
			return Config{}, fmt.Errorf("invalid %s %q (expected %q or %q)",
				envVarUserIDSource, raw, UserIDSourceSessionCookie, UserIDSourceHeader)
		}
	}

	logFormat := LogFormatJSON
	if raw, ok := lookup(envVarLogFormat); ok && strings.TrimSpace(raw) != "" {
		switch LogFormat(strings.TrimSpace(raw)) {
		case LogFormatText:
			logFormat = LogFormatText
		case LogFormatJSON:
			logFormat = LogFormatJSON
		default:
			return Config{}, fmt.Errorf("invalid %s %q (expected text or json)", envVarLogFormat, raw)
		}
	}

	logLevel := slog.LevelInfo
	if raw, ok := lookup(envVarLogLevel); ok && strings.TrimSpace(raw) != "" {
		logLevel, err = parseLogLevel(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, err
		}
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid %s %q", envVarMaxSignalingMessageBytes, raw)
		}
		maxSignalingMessageBytes = n
	}

	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	sessionSvcConnectTimeout, err := envDurationOrDefault(lookup, envVarSessionSvcConnectTimeout, DefaultSessionSvcConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	sessionSvcReadTimeout, err := envDurationOrDefault(lookup, envVarSessionSvcReadTimeout, DefaultSessionSvcReadTimeout)
	if err != nil {
		return Config{}, err
	}
	sessionSvcCreateReadTimeout, err := envDurationOrDefault(lookup, envVarSessionSvcCreateReadTimeout, DefaultSessionSvcCreateReadTimeout)
	if err != nil {
		return Config{}, err
	}
	sessionSvcRetryAttempts, err := envIntOrDefault(lookup, envVarSessionSvcRetryAttempts, 0)
	if err != nil {
		return Config{}, err
	}
	if sessionSvcRetryAttempts < 0 {
		return Config{}, fmt.Errorf("invalid %s %d (must be >= 0)", envVarSessionSvcRetryAttempts, sessionSvcRetryAttempts)
	}

	return Config{
		ListenAddr: net.JoinHostPort(listenIP, listenPort),

		SessionSvcURL: sessionSvcURL,

		AuthToken:            authToken,
		FlaskSecretKey:       flaskSecretKey,
		FlaskSessionLifetime: flaskSessionLifetime,
		DebugNoAuth:          debugNoAuth,

		UserIDSource: userIDSource,

		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,

		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,

		SessionSvcConnectTimeout:    sessionSvcConnectTimeout,
		SessionSvcReadTimeout:       sessionSvcReadTimeout,
		SessionSvcCreateReadTimeout: sessionSvcCreateReadTimeout,
		SessionSvcRetryAttempts:     sessionSvcRetryAttempts,
	}, nil
}

func NewLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func envOrDefault(lookup func(string) (string, bool), key, def string) string {
	if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
		return strings.TrimSpace(raw)
	}
	return def
}

func envIntOrDefault(lookup func(string) (string, bool), key string, def int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, def time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}
