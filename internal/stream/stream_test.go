package stream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshwork-io/consortiumd/internal/testutil/testlog"
	"github.com/meshwork-io/consortiumd/internal/testutil/tlstest"
)

func TestNextBackoffDelayCurve(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     500 * time.Millisecond,
	}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 500 * time.Millisecond},
		{9, 500 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := NextBackoffDelay(cfg, tc.attempt, nil); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestNextBackoffDelayJitterBounds(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(42))
	for attempt := 2; attempt < 6; attempt++ {
		base := NextBackoffDelay(BackoffConfig{
			InitialDelay: cfg.InitialDelay,
			Multiplier:   cfg.Multiplier,
			MaxDelay:     cfg.MaxDelay,
		}, attempt, nil)
		got := NextBackoffDelay(cfg, attempt, rng)
		if got < base/2 || got > base+base/2 {
			t.Fatalf("attempt %d: jittered delay %v outside [%v, %v]", attempt, got, base/2, base+base/2)
		}
	}
}

func TestWebsocketURL(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		base, path, want string
	}{
		{"http://localhost:8085", "/ws/admin/register/net", "ws://localhost:8085/ws/admin/register/net"},
		{"https://node.example/", "scabbard/c1/svc/ws/subscribe", "wss://node.example/scabbard/c1/svc/ws/subscribe"},
	}
	for _, tc := range cases {
		if got := WebsocketURL(tc.base, tc.path); got != tc.want {
			t.Fatalf("WebsocketURL(%q, %q) = %q, want %q", tc.base, tc.path, got, tc.want)
		}
	}
}

func wsTestServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// keep the connection open until the client leaves
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestSupervisorDeliversFramesInOrder(t *testing.T) {
	testlog.Start(t)
	srv := wsTestServer(t, []string{"one", "two", "three"})
	defer srv.Close()

	received := make(chan string, 3)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	sup, err := New("test", url, DefaultConfig(), func(_ context.Context, frame []byte) error {
		received <- string(frame)
		return nil
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() {
		sup.Close()
		<-sup.Done()
	}()

	for _, want := range []string{"one", "two", "three"} {
		select {
		case got := <-received:
			if got != want {
				t.Fatalf("expected %q, got %q", want, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	if sup.State() != StateConnected {
		t.Fatalf("unexpected state: %s", sup.State())
	}
}

func TestSupervisorCloseInterruptsBlockedRead(t *testing.T) {
	testlog.Start(t)
	srv := wsTestServer(t, []string{"hello"})
	defer srv.Close()

	received := make(chan string, 1)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	sup, err := New("test", url, DefaultConfig(), func(_ context.Context, frame []byte) error {
		received <- string(frame)
		return nil
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatalf("no frame before close")
	}

	// the read loop is now parked on the socket with a 60s idle deadline
	sup.Close()
	select {
	case <-sup.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("close did not interrupt the blocked read")
	}
	if sup.State() != StateClosed {
		t.Fatalf("unexpected state: %s", sup.State())
	}
	if sup.Err() != nil {
		t.Fatalf("clean close must not record an error, got %v", sup.Err())
	}
}

func TestSupervisorIdleTimeoutTriggersReconnect(t *testing.T) {
	testlog.Start(t)
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if conns.Add(1) == 1 {
			// first connection stays silent so the client idles out
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
		for {
			if err := conn.WriteMessage(websocket.TextMessage, []byte("tick")); err != nil {
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.IdleTimeout = 200 * time.Millisecond
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1.0, MaxDelay: time.Millisecond}

	received := make(chan string, 4)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	sup, err := New("test", url, cfg, func(_ context.Context, frame []byte) error {
		select {
		case received <- string(frame):
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() {
		sup.Close()
		<-sup.Done()
	}()

	select {
	case got := <-received:
		if got != "tick" {
			t.Fatalf("unexpected frame: %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no frame after idle reconnect")
	}
	if got := conns.Load(); got != 2 {
		t.Fatalf("expected exactly one reconnect after the idle timeout, got %d connections", got)
	}
}

func TestSupervisorConnectsOverTLS(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	authority := tlstest.NewAuthority(t, dir)
	certPath, keyPath := authority.IssueServerCert(t, dir, nil, []net.IP{net.ParseIP("127.0.0.1")})
	serverCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		t.Fatalf("load server keypair: %v", err)
	}

	upgrader := websocket.Upgrader{}
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("secure frame"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{serverCert}}
	srv.StartTLS()
	defer srv.Close()

	caPEM, err := os.ReadFile(authority.CAFile())
	if err != nil {
		t.Fatalf("read ca file: %v", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		t.Fatalf("ca file holds no certificates")
	}

	cfg := DefaultConfig()
	cfg.TLS = &tls.Config{RootCAs: pool}
	received := make(chan string, 1)
	url := "wss" + strings.TrimPrefix(srv.URL, "https")
	sup, err := New("test", url, cfg, func(_ context.Context, frame []byte) error {
		received <- string(frame)
		return nil
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() {
		sup.Close()
		<-sup.Done()
	}()

	select {
	case got := <-received:
		if got != "secure frame" {
			t.Fatalf("unexpected frame: %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no frame over tls")
	}
}

func TestSupervisorProtocolErrorClosesStream(t *testing.T) {
	testlog.Start(t)
	srv := wsTestServer(t, []string{"bad frame"})
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	sup, err := New("test", url, DefaultConfig(), func(_ context.Context, frame []byte) error {
		return fmt.Errorf("%w: unparseable frame", ErrProtocol)
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case <-sup.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("supervisor did not close on protocol error")
	}
	if sup.State() != StateClosed {
		t.Fatalf("unexpected state: %s", sup.State())
	}
	if !errors.Is(sup.Err(), ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", sup.Err())
	}
}

func TestSupervisorHandlerErrorKeepsStreamOpen(t *testing.T) {
	testlog.Start(t)
	srv := wsTestServer(t, []string{"first", "second"})
	defer srv.Close()

	received := make(chan string, 2)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	sup, err := New("test", url, DefaultConfig(), func(_ context.Context, frame []byte) error {
		received <- string(frame)
		return errors.New("transient handler failure")
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() {
		sup.Close()
		<-sup.Done()
	}()

	for _, want := range []string{"first", "second"} {
		select {
		case got := <-received:
			if got != want {
				t.Fatalf("expected %q, got %q", want, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestSupervisorReconnectExhausted(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.ReconnectLimit = 2
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1.0, MaxDelay: time.Millisecond}

	var attempts int
	sup, err := New("test", "ws://unreachable.invalid/ws", cfg,
		func(_ context.Context, _ []byte) error { return nil },
		withDialer(func(_ context.Context) (*websocket.Conn, error) {
			attempts++
			return nil, errors.New("connection refused")
		}))
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case <-sup.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("supervisor did not give up")
	}
	if !errors.Is(sup.Err(), ErrReconnectExhausted) {
		t.Fatalf("expected ErrReconnectExhausted, got %v", sup.Err())
	}
	if attempts != 3 {
		t.Fatalf("expected initial attempt plus two retries, got %d", attempts)
	}
}

func TestSupervisorReconnectDisabledTerminatesOnFirstFailure(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Reconnect = false

	var attempts int
	sup, err := New("test", "ws://unreachable.invalid/ws", cfg,
		func(_ context.Context, _ []byte) error { return nil },
		withDialer(func(_ context.Context) (*websocket.Conn, error) {
			attempts++
			return nil, errors.New("connection refused")
		}))
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case <-sup.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("supervisor did not terminate")
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
	if sup.Err() == nil {
		t.Fatalf("expected a terminal error")
	}
}

func TestSupervisorRejectsMissingInputs(t *testing.T) {
	testlog.Start(t)
	if _, err := New("test", " ", DefaultConfig(), func(_ context.Context, _ []byte) error { return nil }); !errors.Is(err, ErrURLRequired) {
		t.Fatalf("expected ErrURLRequired, got %v", err)
	}
	if _, err := New("test", "ws://host/ws", DefaultConfig(), nil); !errors.Is(err, ErrHandlerRequired) {
		t.Fatalf("expected ErrHandlerRequired, got %v", err)
	}
}

func TestSupervisorStartTwice(t *testing.T) {
	testlog.Start(t)
	srv := wsTestServer(t, nil)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	sup, err := New("test", url, DefaultConfig(), func(_ context.Context, _ []byte) error { return nil })
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := sup.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	sup.Close()
	<-sup.Done()
}
