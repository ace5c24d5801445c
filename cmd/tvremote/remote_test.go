package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/HerbHall/tvremote/internal/connection"
	"github.com/HerbHall/tvremote/internal/event"
	"github.com/HerbHall/tvremote/pkg/models"
)

type fakeRemote struct {
	connected   bool
	supportsPIN bool
	pins        []string
	presses     []string
	cancels     int
}

func (f *fakeRemote) Status() models.ConnectionStatus {
	if f.connected {
		return models.ConnectionStatus{Kind: models.StatusConnected}
	}
	return models.Disconnected
}

func (f *fakeRemote) SupportsPIN() bool { return f.supportsPIN }

func (f *fakeRemote) SubmitPIN(_ context.Context, pin string) bool {
	f.pins = append(f.pins, pin)
	return pin == "1234"
}

func (f *fakeRemote) CancelPairing() { f.cancels++ }

func (f *fakeRemote) SendCommand(_ context.Context, b models.RemoteButton) error {
	if !f.connected {
		return connection.ErrNotConnected
	}
	if b.IsPremium() {
		return connection.ErrPremiumRequired
	}
	f.presses = append(f.presses, string(b))
	return nil
}

func (f *fakeRemote) SendLongPress(_ context.Context, b models.RemoteButton) error {
	if !f.connected {
		return connection.ErrNotConnected
	}
	f.presses = append(f.presses, "long:"+string(b))
	return nil
}

func TestRemoteSession_Run(t *testing.T) {
	conn := &fakeRemote{connected: true, supportsPIN: true}
	var out bytes.Buffer
	r := &remoteSession{conn: conn, out: &out}

	input := strings.Join([]string{
		"up",
		"",
		"long home",
		"ok",
		"pin 9999",
		"pin 1234",
		"play",
		"jump",
		"cancel",
		"quit",
		"down",
	}, "\n")

	if err := r.run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{"UP", "long:HOME", "ENTER"}
	if strings.Join(conn.presses, ",") != strings.Join(want, ",") {
		t.Errorf("presses = %v, want %v (nothing after quit)", conn.presses, want)
	}
	if len(conn.pins) != 2 || conn.pins[1] != "1234" {
		t.Errorf("pins = %v", conn.pins)
	}
	if conn.cancels != 1 {
		t.Errorf("cancels = %d, want 1", conn.cancels)
	}
	for _, msg := range []string{"PIN rejected", "PLAY requires premium", `unknown button "jump"`} {
		if !strings.Contains(out.String(), msg) {
			t.Errorf("output missing %q:\n%s", msg, out.String())
		}
	}
}

func TestRemoteSession_NotConnected(t *testing.T) {
	conn := &fakeRemote{}
	var out bytes.Buffer
	r := &remoteSession{conn: conn, out: &out}

	r.handle(context.Background(), "VOLUP")
	r.handle(context.Background(), "pin 1234")
	r.handle(context.Background(), "status")

	got := out.String()
	for _, msg := range []string{"not connected yet", "does not pair with a PIN", "Not connected"} {
		if !strings.Contains(got, msg) {
			t.Errorf("output missing %q:\n%s", msg, got)
		}
	}
	if len(conn.pins) != 0 {
		t.Error("PIN should not be submitted without PIN pairing")
	}
}

func TestRemoteSession_EOFEnds(t *testing.T) {
	r := &remoteSession{conn: &fakeRemote{connected: true}, out: &bytes.Buffer{}}
	if err := r.run(context.Background(), strings.NewReader("up\n")); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRemoteSession_PrintsStatus(t *testing.T) {
	var out bytes.Buffer
	r := &remoteSession{conn: &fakeRemote{}, out: &out}

	r.onStatus(context.Background(), event.Event{
		Topic:   event.TopicStatusChanged,
		Payload: event.StatusChangedPayload{Status: models.ConnectionStatus{Kind: models.StatusAwaitingPIN}},
	})
	if !strings.Contains(out.String(), "[awaiting_pin] Enter the PIN shown on your TV") {
		t.Errorf("output = %q", out.String())
	}
}
