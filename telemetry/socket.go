package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"asset_editor/apiclient"
	"asset_editor/core"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultReconnectDelay is the fixed wait between connection attempts.
const DefaultReconnectDelay = 2 * time.Second

// Handler receives every decoded snapshot.
type Handler func(Snapshot)

// SocketConfig configures a Socket.
type SocketConfig struct {
	// ReconnectDelay is the wait after a close or dial failure. There is
	// no backoff.
	ReconnectDelay time.Duration
	// HandshakeTimeout bounds each dial (default 10s).
	HandshakeTimeout time.Duration
	// History receives every snapshot when set.
	History *History
	// OnConnect is called with true after each dial and false after each
	// disconnect.
	OnConnect func(connected bool)
	Logger    *zap.Logger
}

// DefaultSocketConfig returns the reconnect timing the backend expects.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		ReconnectDelay:   DefaultReconnectDelay,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Socket reads JSON telemetry frames and reconnects forever.
type Socket struct {
	url     string
	handler Handler
	cfg     SocketConfig
	dialer  *websocket.Dialer
	logger  *zap.Logger

	connected atomic.Bool
	frames    atomic.Int64
	dials     atomic.Int64
}

// NewSocket returns a socket for a ws:// or wss:// URL.
func NewSocket(url string, handler Handler, cfg SocketConfig) *Socket {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		handler = func(Snapshot) {}
	}
	return &Socket{
		url:     url,
		handler: handler,
		cfg:     cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger.Named("telemetry").With(zap.String("url", url)),
	}
}

// Connected reports whether a connection is currently open.
func (s *Socket) Connected() bool { return s.connected.Load() }

// Frames is the number of snapshots delivered so far.
func (s *Socket) Frames() int64 { return s.frames.Load() }

// Dials is the number of successful connections so far.
func (s *Socket) Dials() int64 { return s.dials.Load() }

// Run blocks until ctx is done and returns ctx.Err().
func (s *Socket) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("telemetry connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("delay", s.cfg.ReconnectDelay))

		timer := time.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

var errClosed = errors.New("telemetry: connection closed")

func (s *Socket) session(ctx context.Context) error {
	header := http.Header{"User-Agent": {core.UserAgent()}}
	conn, _, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("telemetry: dial: %w", err)
	}
	s.dials.Add(1)
	s.setConnected(true)
	s.logger.Info("telemetry connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer func() {
		conn.Close()
		s.setConnected(false)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errClosed
			}
			return fmt.Errorf("telemetry: read: %w", err)
		}
		stats, err := apiclient.ParseStats(data)
		if err != nil {
			s.logger.Debug("dropping malformed telemetry frame", zap.Error(err))
			continue
		}
		snap := Snapshot{At: time.Now(), Stats: stats}
		if s.cfg.History != nil {
			s.cfg.History.Push(snap)
		}
		s.frames.Add(1)
		s.handler(snap)
	}
}

func (s *Socket) setConnected(v bool) {
	if s.connected.Swap(v) != v && s.cfg.OnConnect != nil {
		s.cfg.OnConnect(v)
	}
}
