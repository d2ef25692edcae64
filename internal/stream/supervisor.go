package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/meshwork-io/consortiumd/internal/observability"
)

var (
	ErrURLRequired        = errors.New("stream: endpoint url required")
	ErrHandlerRequired    = errors.New("stream: message handler required")
	ErrAlreadyStarted     = errors.New("stream: supervisor already started")
	ErrClosed             = errors.New("stream: supervisor closed")
	ErrProtocol           = errors.New("stream: protocol error")
	ErrReconnectExhausted = errors.New("stream: reconnect attempts exhausted")
)

// State is the connection lifecycle of one supervisor.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Handler receives one decoded frame. A returned error wrapping ErrProtocol
// closes the stream permanently; any other error is logged and the stream
// continues.
type Handler func(ctx context.Context, frame []byte) error

// Config defines supervision defaults for one stream. TLS applies only to
// wss endpoints; nil uses the system trust store.
type Config struct {
	Reconnect        bool
	ReconnectLimit   uint
	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration
	Backoff          BackoffConfig
	TLS              *tls.Config
}

func DefaultConfig() Config {
	return Config{
		Reconnect:        true,
		ReconnectLimit:   10,
		IdleTimeout:      60 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = DefaultConfig().Backoff
	}
	return c
}

// Supervisor owns exactly one logical websocket connection and applies the
// reconnect policy over it.
type Supervisor struct {
	name      string
	url       string
	cfg       Config
	onMessage Handler
	onOpen    func(ctx context.Context)
	onError   func(err error)

	dial func(ctx context.Context) (*websocket.Conn, error)
	rng  *rand.Rand

	state     atomic.Int32
	started   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Option tunes a supervisor at construction time.
type Option func(*Supervisor)

// WithOnOpen registers a hook invoked once per connection establishment. The
// hook runs on its own goroutine so it cannot block the receive loop.
func WithOnOpen(fn func(ctx context.Context)) Option {
	return func(s *Supervisor) { s.onOpen = fn }
}

// WithOnError registers a hook invoked with the terminal error, if any.
func WithOnError(fn func(err error)) Option {
	return func(s *Supervisor) { s.onError = fn }
}

// withDialer overrides the websocket dialer (tests).
func withDialer(dial func(ctx context.Context) (*websocket.Conn, error)) Option {
	return func(s *Supervisor) { s.dial = dial }
}

func New(name, url string, cfg Config, onMessage Handler, opts ...Option) (*Supervisor, error) {
	if strings.TrimSpace(url) == "" {
		return nil, ErrURLRequired
	}
	if onMessage == nil {
		return nil, ErrHandlerRequired
	}
	s := &Supervisor{
		name:      name,
		url:       url,
		cfg:       cfg.withDefaults(),
		onMessage: onMessage,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		done:      make(chan struct{}),
	}
	s.dial = s.dialWebsocket
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(int32(StateDisconnected))
	return s, nil
}

// Start launches the supervision loop. It returns immediately; observe
// Done and Err for the terminal outcome.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.State() == StateClosed {
		return ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(runCtx)
	return nil
}

// State reports the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Done is closed once the supervision loop has fully stopped.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error, if the stream closed on one.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the supervisor. Safe to call more than once; a pending
// reconnect timer is aborted rather than allowed one last cycle.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if !s.started.Load() {
			s.state.Store(int32(StateClosed))
			close(s.done)
		}
	})
}

func (s *Supervisor) dialWebsocket(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		TLSClientConfig:  s.cfg.TLS,
	}
	conn, resp, err := dialer.DialContext(ctx, s.url, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("stream: dial %s: status %d: %w", s.url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stream: dial %s: %w", s.url, err)
	}
	return conn, nil
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	var failures uint
	for {
		if ctx.Err() != nil {
			s.terminate(nil)
			return
		}
		if failures == 0 {
			s.state.Store(int32(StateConnecting))
		} else {
			s.state.Store(int32(StateReconnecting))
		}

		conn, err := s.dial(ctx)
		if err != nil {
			log.Warn().Err(err).Str("stream", s.name).Uint("failures", failures+1).Msg("stream connect failed")
			failures++
			if !s.retryAfterFailure(ctx, failures) {
				return
			}
			continue
		}

		log.Info().Str("stream", s.name).Str("url", s.url).Msg("stream connected")
		s.state.Store(int32(StateConnected))
		failures = 0
		if s.onOpen != nil {
			go s.onOpen(ctx)
		}

		// A blocked ReadMessage only returns when the connection closes, so
		// watch the run context and close the socket under it to keep Close
		// prompt instead of waiting out the idle deadline.
		watchDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-watchDone:
			}
		}()
		err = s.receive(ctx, conn)
		close(watchDone)
		_ = conn.Close()
		switch {
		case ctx.Err() != nil:
			s.terminate(nil)
			return
		case errors.Is(err, ErrProtocol):
			log.Error().Err(err).Str("stream", s.name).Msg("protocol error, closing stream")
			s.terminate(err)
			return
		default:
			log.Warn().Err(err).Str("stream", s.name).Msg("stream connection lost")
			failures++
			if !s.retryAfterFailure(ctx, failures) {
				return
			}
		}
	}
}

// retryAfterFailure applies the reconnect policy after one failed attempt or
// lost connection. It reports whether the loop should try again.
func (s *Supervisor) retryAfterFailure(ctx context.Context, failures uint) bool {
	if !s.cfg.Reconnect {
		s.terminate(fmt.Errorf("stream: %s disconnected and reconnect disabled", s.name))
		return false
	}
	if failures > s.cfg.ReconnectLimit {
		s.terminate(fmt.Errorf("%w: %s after %d attempts", ErrReconnectExhausted, s.name, s.cfg.ReconnectLimit))
		return false
	}
	observability.RecordReconnect(s.name)
	s.state.Store(int32(StateReconnecting))
	delay := NextBackoffDelay(s.cfg.Backoff, int(failures), s.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.terminate(nil)
		return false
	case <-timer.C:
		return true
	}
}

// receive reads frames until the connection breaks, an idle timeout fires,
// or the handler reports a protocol error. Handler errors that are not
// protocol errors are logged and do not close the connection.
func (s *Supervisor) receive(ctx context.Context, conn *websocket.Conn) error {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return fmt.Errorf("stream: set read deadline: %w", err)
		}
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream: read: %w", err)
		}
		if err := s.onMessage(ctx, frame); err != nil {
			if errors.Is(err, ErrProtocol) {
				return err
			}
			log.Error().Err(err).Str("stream", s.name).Msg("handler error")
		}
	}
}

func (s *Supervisor) terminate(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.state.Store(int32(StateClosed))
	if err != nil && s.onError != nil {
		s.onError(err)
	}
}
