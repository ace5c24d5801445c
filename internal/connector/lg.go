package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HerbHall/tvremote/internal/wire"
	"github.com/HerbHall/tvremote/pkg/models"
	"go.uber.org/zap"
)

const lgRegisterID = "register_0"

var lgPermissions = []string{
	"CONTROL_POWER",
	"CONTROL_INPUT_MEDIA_PLAYBACK",
	"CONTROL_AUDIO",
	"CONTROL_INPUT_TV",
	"LAUNCH",
}

type lgMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	URI     string          `json:"uri,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type lgRequest struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	URI     string `json:"uri,omitempty"`
	Payload any    `json:"payload"`
}

type lgRegisterPayload struct {
	ForcePairing bool       `json:"forcePairing"`
	PairingType  string     `json:"pairingType"`
	ClientKey    string     `json:"client-key,omitempty"`
	Manifest     lgManifest `json:"manifest"`
}

type lgManifest struct {
	ManifestVersion int      `json:"manifestVersion"`
	AppVersion      string   `json:"appVersion"`
	Permissions     []string `json:"permissions"`
}

type lgRegisteredPayload struct {
	ClientKey string `json:"client-key"`
}

type lgPairingPayload struct {
	PairingType string `json:"pairingType"`
}

// LG drives the webOS SSAP WebSocket. Registration with a saved client-key
// succeeds silently; without one the TV prompts for approval or shows a PIN.
type LG struct {
	base
	Port   int
	Scheme string

	reqID atomic.Uint64
	muted atomic.Bool

	mu        sync.Mutex
	conn      *wire.WSConn
	clientKey string
	pinPhase  chan struct{}
}

func NewLG(cfg Config, logger *zap.Logger) *LG {
	l := &LG{Port: models.PlatformWebOS.DefaultPort(), Scheme: "wss"}
	l.init(models.PlatformWebOS, cfg, logger)
	return l
}

func (l *LG) SupportsPIN() bool { return true }

// AuthToken returns the client-key in effect.
func (l *LG) AuthToken() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clientKey
}

func (l *LG) Connect(ctx context.Context, device models.TVDevice) bool {
	a := l.begin("Preparing secure connection...")
	pinPhase := make(chan struct{}, 1)

	l.mu.Lock()
	l.conn = nil
	l.clientKey = device.AuthToken
	l.pinPhase = pinPhase
	l.mu.Unlock()
	l.muted.Store(false)

	if !l.transition(a, models.Connecting("Connecting to LG TV...")) {
		return false
	}

	dialCtx, cancelDial := context.WithCancel(a.ctx)
	stop := context.AfterFunc(ctx, cancelDial)
	rawURL := fmt.Sprintf("%s://%s/", l.Scheme, net.JoinHostPort(device.Address, strconv.Itoa(l.Port)))
	conn, err := wire.DialWS(dialCtx, rawURL, wire.WSDialOptions{InsecureTLS: true, Timeout: l.cfg.HandshakeTimeout})
	stop()
	cancelDial()
	if ctx.Err() != nil {
		if conn != nil {
			conn.Close()
		}
		l.reset(a)
		return l.finish(a, cancelled())
	}
	if err != nil {
		l.logger.Debug("lg dial failed", zap.String("ip", device.Address), zap.Error(err))
		return l.finish(a, failure("Could not reach LG TV"))
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	a.onClose(func() { conn.Close() })

	go l.readLoop(a, conn)

	if !l.transition(a, models.Connecting("Sending registration...")) {
		return false
	}
	reg := lgRequest{
		Type: "register",
		ID:   lgRegisterID,
		Payload: lgRegisterPayload{
			PairingType: "PROMPT",
			ClientKey:   device.AuthToken,
			Manifest: lgManifest{
				ManifestVersion: 1,
				AppVersion:      "1.0.0",
				Permissions:     lgPermissions,
			},
		},
	}
	wctx, cancel := context.WithTimeout(a.ctx, l.cfg.HandshakeTimeout)
	err = conn.WriteJSON(wctx, reg)
	cancel()
	if err != nil {
		return l.finish(a, failure("Failed to send registration"))
	}
	l.transition(a, models.Connecting("Waiting for TV confirmation..."))

	o := l.awaitRegistration(ctx, a, pinPhase)
	if !l.finish(a, o) {
		return false
	}
	go l.keepAlive(a, conn.Ping)
	return true
}

// awaitRegistration waits under the approval timeout, switching to the
// PIN timeout once the TV asks for a PIN.
func (l *LG) awaitRegistration(ctx context.Context, a *attempt, pinPhase <-chan struct{}) outcome {
	timer := time.NewTimer(l.cfg.ApprovalTimeout)
	defer timer.Stop()
	reason := "Timed out waiting for approval on the TV"

	for {
		select {
		case <-a.result.Done():
		case <-pinPhase:
			timer.Reset(l.cfg.PINTimeout)
			reason = "Timed out waiting for PIN"
			continue
		case <-timer.C:
			a.result.Resolve(failure(reason))
		case <-ctx.Done():
			l.reset(a)
		}
		o, _ := a.result.Value()
		return o
	}
}

func (l *LG) readLoop(a *attempt, conn *wire.WSConn) {
	for {
		raw, err := conn.Read(a.ctx)
		if err != nil {
			if a.ctx.Err() != nil {
				return
			}
			if a.result.Resolve(failure("Connection closed by TV")) {
				return
			}
			<-a.settled
			l.lost(a, "Connection lost")
			return
		}

		var msg lgMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		l.handleMessage(a, msg)
	}
}

func (l *LG) handleMessage(a *attempt, msg lgMessage) {
	_, resolved := a.result.Value()

	switch msg.Type {
	case "registered":
		var p lgRegisteredPayload
		_ = json.Unmarshal(msg.Payload, &p)
		if p.ClientKey != "" {
			l.mu.Lock()
			l.clientKey = p.ClientKey
			l.mu.Unlock()
		}
		a.result.Resolve(outcome{ok: true})

	case "response":
		if resolved || msg.ID != lgRegisterID {
			return
		}
		var p lgPairingPayload
		_ = json.Unmarshal(msg.Payload, &p)
		switch p.PairingType {
		case "PROMPT":
			l.transition(a, models.AwaitingApproval())
		case "PIN":
			l.enterPINPhase(a)
		}

	case "promptForPIN", "pairing":
		if !resolved {
			l.enterPINPhase(a)
		}

	case "error":
		if resolved {
			l.logger.Debug("ssap error", zap.String("id", msg.ID), zap.String("error", msg.Error))
			return
		}
		reason := "Connection rejected"
		if msg.Error != "" {
			reason = "Connection rejected: " + msg.Error
		}
		a.result.Resolve(failure(reason))

	default:
		// Only the types above are part of registration.
		if !resolved {
			l.logger.Debug("unexpected ssap message during registration", zap.String("type", msg.Type))
			a.result.Resolve(failure("Connection rejected"))
		}
	}
}

func (l *LG) enterPINPhase(a *attempt) {
	if !l.transition(a, models.WaitingForPIN()) {
		return
	}
	l.mu.Lock()
	ch := l.pinPhase
	l.mu.Unlock()
	select {
	case ch <- struct{}{}:
	default:
	}
}

// SubmitPIN sends the on-screen PIN and waits for the TV to register us.
func (l *LG) SubmitPIN(ctx context.Context, pin string) bool {
	a := l.current()
	if a == nil || l.State().Kind != models.StateWaitingForPIN {
		return false
	}
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil || !l.transition(a, models.VerifyingPIN()) {
		return false
	}

	req := lgRequest{
		Type:    "request",
		ID:      l.nextID("pin"),
		URI:     "ssap://pairing/setPin",
		Payload: map[string]string{"pin": pin},
	}
	wctx, cancel := context.WithTimeout(a.ctx, l.cfg.DialTimeout)
	err := conn.WriteJSON(wctx, req)
	cancel()
	if err != nil {
		a.result.Resolve(failure("Failed to send PIN"))
	}

	return verifyPIN(ctx, a, l.cfg.VerifyTimeout)
}

// verifyPIN waits for the handshake to settle after a PIN was sent.
func verifyPIN(ctx context.Context, a *attempt, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-a.result.Done():
	case <-timer.C:
		a.result.Resolve(failure("PIN verification timed out"))
	case <-ctx.Done():
		return false
	}

	select {
	case <-a.settled:
	case <-ctx.Done():
		return false
	}
	o, _ := a.result.Value()
	return o.ok
}

func (l *LG) nextID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, l.reqID.Add(1))
}

func (l *LG) SendCommand(button models.RemoteButton) {
	if button == models.ButtonMute {
		muted := !l.muted.Load()
		if l.Request("ssap://audio/setMute", map[string]any{"mute": muted}) {
			l.muted.Store(muted)
		}
		return
	}
	cmd, ok := lgCommands[button]
	if !ok {
		return
	}
	l.Request(cmd.uri, cmd.payload)
}

// Request queues an arbitrary ssap request. A nil payload is sent as {}.
func (l *LG) Request(uri string, payload map[string]any) bool {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return false
	}
	if payload == nil {
		payload = map[string]any{}
	}
	req := lgRequest{Type: "request", ID: l.nextID("req"), URI: uri, Payload: payload}
	return l.enqueue(uri, func(ctx context.Context) error {
		return fatal(conn.WriteJSON(ctx, req))
	})
}
