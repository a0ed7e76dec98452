// Package push listens on the server's websocket notification channel.
// The server announces completed sync passes and remote changes, which
// saves the engines from waiting for their next periodic pass.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"

	apperrors "github.com/alexjbarnes/dav-sync/internal/errors"
)

const (
	reconnectMin = 5 * time.Second
	reconnectMax = 5 * time.Minute

	// jitter is uniform in [0, backoff/jitterDivisor).
	jitterDivisor              = 2
	reconnectBackoffMultiplier = 2

	readLimit = 64 * 1024
)

// Engine is the part of a sync engine the listener drives.
type Engine interface {
	Domain() string
	RequestSync()
	SetTimeLastSync(ts int64)
}

// Kickable queues an orchestrator run.
type Kickable interface {
	Kick()
}

//go:generate mockgen -source=listener.go -destination=mock_wsconn_test.go -package=push -mock_names=wsConn=MockWSConn

// wsConn abstracts the websocket connection so the read loop can be
// tested without a server. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

// Listener keeps one websocket open and routes notifications to the
// engines.
type Listener struct {
	url     string
	header  http.Header
	engines map[string]Engine
	kicker  Kickable
	logger  *slog.Logger

	dial func(ctx context.Context) (wsConn, error)
}

// NewListener creates a listener for url authenticating with basic
// auth.
func NewListener(url, username, password string, engines []Engine, kicker Kickable, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}

	req, _ := http.NewRequest(http.MethodGet, url, nil) //nolint:noctx // only used to build the auth header
	req.SetBasicAuth(username, password)

	l := &Listener{
		url:     url,
		header:  http.Header{"Authorization": req.Header.Values("Authorization")},
		engines: make(map[string]Engine, len(engines)),
		kicker:  kicker,
		logger:  logger.With(slog.String("component", "push")),
	}

	for _, e := range engines {
		l.engines[e.Domain()] = e
	}

	l.dial = l.dialWebsocket

	return l
}

func (l *Listener) dialWebsocket(ctx context.Context) (wsConn, error) {
	conn, resp, err := websocket.Dial(ctx, l.url, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPHeader: l.header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("dialing push endpoint: %w", apperrors.ErrForbidden)
		}

		return nil, &apperrors.TransientError{Err: fmt.Errorf("dialing push endpoint: %w", err)}
	}

	return conn, nil
}

// Run connects and reconnects until ctx is cancelled. A rejected
// credential is permanent and ends the loop.
func (l *Listener) Run(ctx context.Context) error {
	backoff := reconnectMin

	for {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if errors.Is(err, apperrors.ErrForbidden) {
			return fmt.Errorf("permanent push error: %w", err)
		}

		if connected {
			backoff = reconnectMin
		}

		l.logger.Warn("push connection lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		jitter := time.Duration(rand.Int64N(int64(backoff) / jitterDivisor)) //nolint:gosec // G404: reconnect jitter has no security impact

		timer := time.NewTimer(backoff + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		backoff = min(backoff*reconnectBackoffMultiplier, reconnectMax)
	}
}

// session runs one connection. connected reports whether the dial
// succeeded.
func (l *Listener) session(ctx context.Context) (connected bool, err error) {
	conn, err := l.dial(ctx)
	if err != nil {
		return false, err
	}

	defer conn.Close(websocket.StatusNormalClosure, "")

	conn.SetReadLimit(readLimit)

	l.logger.Info("push connected")

	// Notifications sent while disconnected are lost.
	for _, e := range l.engines {
		e.RequestSync()
	}

	return true, l.serve(ctx, conn)
}

func (l *Listener) serve(ctx context.Context, conn wsConn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("reading push message: %w", err)
		}

		if typ != websocket.MessageText {
			l.logger.Debug("ignoring binary push frame", slog.Int("bytes", len(data)))
			continue
		}

		l.handle(data)
	}
}

func (l *Listener) handle(data []byte) {
	msg := gjson.ParseBytes(data)
	op := msg.Get("op").Str

	if op == "ping" {
		return
	}

	domain := msg.Get("domain").Str

	e, ok := l.engines[domain]
	if !ok {
		l.logger.Debug("push message for unknown domain", slog.String("op", op), slog.String("domain", domain))
		return
	}

	switch op {
	case "synced":
		ts := msg.Get("ts")
		if ts.Type != gjson.Number {
			l.logger.Debug("synced message without timestamp", slog.String("domain", domain))
			return
		}

		e.SetTimeLastSync(ts.Int())
		l.kicker.Kick()

		l.logger.Debug("remote pass complete", slog.String("domain", domain), slog.Int64("ts", ts.Int()))
	case "changed":
		e.RequestSync()
	default:
		l.logger.Debug("unknown push op", slog.String("op", op))
	}
}
