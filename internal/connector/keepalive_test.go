package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HerbHall/tvremote/pkg/models"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

func keepAliveConfig() Config {
	cfg := testConfig()
	cfg.PingInterval = 100 * time.Millisecond
	cfg.DialTimeout = 300 * time.Millisecond
	return cfg
}

func TestSamsung_KeepAliveLost(t *testing.T) {
	// A websocket peer that never reads never answers pings.
	release := make(chan struct{})
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		_ = wsjson.Write(context.Background(), c, map[string]any{"event": "ms.channel.connect", "data": map[string]any{}})
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	_, port := hostPort(t, srv.URL)

	s := NewSamsung(keepAliveConfig(), zap.NewNop())
	s.SecurePort = port
	if !s.Connect(t.Context(), testDevice(models.PlatformTizen)) {
		t.Fatalf("Connect failed: %v", s.State())
	}

	st := waitForState(t, s, models.StateFailed)
	if st.Message() != "Connection lost" {
		t.Errorf("state = %v, want failed(Connection lost)", st)
	}
	if s.enqueue("late", func(context.Context) error { return nil }) {
		t.Error("command queued on a lost session")
	}
}

func TestSamsung_KeepAliveHealthy(t *testing.T) {
	tv := newFakeTizen(t, true, map[string]any{"event": "ms.channel.connect", "data": map[string]any{}})
	_, port := hostPort(t, tv.srv.URL)

	s := NewSamsung(keepAliveConfig(), zap.NewNop())
	s.SecurePort = port
	if !s.Connect(t.Context(), testDevice(models.PlatformTizen)) {
		t.Fatalf("Connect failed: %v", s.State())
	}
	defer s.Disconnect()

	time.Sleep(500 * time.Millisecond)
	if st := s.State(); st.Kind != models.StateConnected {
		t.Errorf("state after several pings = %v, want connected", st)
	}
}

func registerLG(ctx context.Context, c *websocket.Conn) bool {
	reg, err := readLG(ctx, c)
	if err != nil {
		return false
	}
	return wsjson.Write(ctx, c, map[string]any{
		"type": "registered", "id": reg.ID,
		"payload": map[string]any{"client-key": "k"},
	}) == nil
}

func TestLG_KeepAliveLost(t *testing.T) {
	release := make(chan struct{})
	port := newFakeWebOS(t, func(ctx context.Context, c *websocket.Conn) {
		if registerLG(ctx, c) {
			<-release
		}
	})
	t.Cleanup(func() { close(release) })

	l := NewLG(keepAliveConfig(), zap.NewNop())
	l.Port = port
	if !l.Connect(t.Context(), testDevice(models.PlatformWebOS)) {
		t.Fatalf("Connect failed: %v", l.State())
	}

	st := waitForState(t, l, models.StateFailed)
	if st.Message() != "Connection lost" {
		t.Errorf("state = %v, want failed(Connection lost)", st)
	}
}

func TestLG_KeepAliveHealthy(t *testing.T) {
	port := newFakeWebOS(t, func(ctx context.Context, c *websocket.Conn) {
		if registerLG(ctx, c) {
			drainLG(ctx, c)
		}
	})

	l := NewLG(keepAliveConfig(), zap.NewNop())
	l.Port = port
	if !l.Connect(t.Context(), testDevice(models.PlatformWebOS)) {
		t.Fatalf("Connect failed: %v", l.State())
	}
	defer l.Disconnect()

	time.Sleep(500 * time.Millisecond)
	if st := l.State(); st.Kind != models.StateConnected {
		t.Errorf("state after several pings = %v, want connected", st)
	}
}
