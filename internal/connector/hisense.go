package connector

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/HerbHall/tvremote/internal/wire"
	"github.com/HerbHall/tvremote/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type hisensePairingRequest struct {
	Type       string `json:"type"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

type hisensePairingVerify struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
	PIN      string `json:"pin"`
}

type hisenseCommand struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

// hisenseReply covers the fields VIDAA firmwares use to report pairing
// progress. Which ones are present varies by model.
type hisenseReply struct {
	Type    string `json:"type"`
	Result  string `json:"result"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type hisenseVerdict int

const (
	hisenseIgnore hisenseVerdict = iota
	hisensePaired
	hisenseRejected
	hisensePINPrompt
)

var (
	hisenseSuccessWords = []string{"success", "succeeded", "paired", "accepted"}
	hisenseRejectWords  = []string{"fail", "failed", "failure", "error", "invalid", "reject", "rejected", "denied", "unpaired"}
	hisensePromptWords  = []string{"pin", "pairing", "request_pairing", "pin_required"}
)

// hisenseTokens splits the status fields into lower-case words. Underscored
// compounds are kept whole and also split, so "pin_required" yields
// "pin_required", "pin" and "required".
func hisenseTokens(r hisenseReply) map[string]bool {
	words := map[string]bool{}
	for _, f := range []string{r.Type, r.Result, r.Status} {
		for _, w := range strings.FieldsFunc(strings.ToLower(f), func(c rune) bool {
			return !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_'
		}) {
			words[w] = true
			for _, part := range strings.Split(w, "_") {
				words[part] = true
			}
		}
	}
	return words
}

func hasAny(words map[string]bool, list []string) bool {
	for _, w := range list {
		if words[w] {
			return true
		}
	}
	return false
}

// classifyHisense maps a reply onto a pairing verdict. A success reply only
// counts once a PIN is being verified; before that the TV is still
// prompting.
func classifyHisense(r hisenseReply, verifying bool) hisenseVerdict {
	words := hisenseTokens(r)
	switch {
	case hasAny(words, hisenseRejectWords):
		return hisenseRejected
	case hasAny(words, hisenseSuccessWords):
		if verifying {
			return hisensePaired
		}
		if hasAny(words, hisensePromptWords) {
			return hisensePINPrompt
		}
		return hisenseIgnore
	case hasAny(words, hisensePromptWords):
		return hisensePINPrompt
	default:
		return hisenseIgnore
	}
}

// Hisense speaks line-delimited JSON over the VIDAA control port. Every
// session pairs afresh: the TV shows a PIN, the user types it back.
type Hisense struct {
	base
	Port int

	mu       sync.Mutex
	conn     *wire.StreamConn
	deviceID string
}

func NewHisense(cfg Config, logger *zap.Logger) *Hisense {
	h := &Hisense{Port: models.PlatformVIDAA.DefaultPort()}
	h.init(models.PlatformVIDAA, cfg, logger)
	return h
}

func (h *Hisense) SupportsPIN() bool { return true }

func (h *Hisense) Connect(ctx context.Context, device models.TVDevice) bool {
	a := h.begin("Connecting to Hisense TV...")
	deviceID := uuid.NewString()

	h.mu.Lock()
	h.conn = nil
	h.deviceID = deviceID
	h.mu.Unlock()

	dialCtx, cancelDial := context.WithCancel(a.ctx)
	stop := context.AfterFunc(ctx, cancelDial)
	conn, err := wire.DialStream(dialCtx, net.JoinHostPort(device.Address, strconv.Itoa(h.Port)), h.cfg.DialTimeout)
	stop()
	cancelDial()
	if ctx.Err() != nil {
		if conn != nil {
			conn.Close()
		}
		h.reset(a)
		return h.finish(a, cancelled())
	}
	if err != nil {
		h.logger.Debug("hisense dial failed", zap.String("ip", device.Address), zap.Error(err))
		return h.finish(a, failure("Could not reach Hisense TV"))
	}

	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
	a.onClose(func() { conn.Close() })

	go h.readLoop(a, conn)

	if !h.transition(a, models.RequestingPIN()) {
		return false
	}
	err = conn.WriteJSON(hisensePairingRequest{
		Type:       "request_pairing",
		DeviceID:   deviceID,
		DeviceName: h.cfg.AppName,
	})
	if err != nil {
		return h.finish(a, failure("Failed to request pairing"))
	}
	h.transition(a, models.WaitingForPIN())

	return h.finish(a, h.await(ctx, a, h.cfg.PINTimeout, "Timed out waiting for PIN"))
}

func (h *Hisense) readLoop(a *attempt, conn *wire.StreamConn) {
	for {
		raw, err := conn.ReadJSON()
		if err != nil {
			if a.ctx.Err() != nil {
				return
			}
			if a.result.Resolve(failure("Connection closed by TV")) {
				return
			}
			<-a.settled
			h.lost(a, "Connection lost")
			return
		}

		var reply hisenseReply
		if err := json.Unmarshal(raw, &reply); err != nil {
			continue
		}
		if _, resolved := a.result.Value(); resolved {
			continue
		}

		verifying := h.State().Kind == models.StateVerifyingPIN
		switch classifyHisense(reply, verifying) {
		case hisensePaired:
			a.result.Resolve(outcome{ok: true})
		case hisenseRejected:
			reason := "Pairing rejected by TV"
			if verifying {
				reason = "Incorrect PIN"
			}
			if reply.Message != "" {
				reason = reply.Message
			}
			a.result.Resolve(failure(reason))
		case hisensePINPrompt:
			if h.State().Kind != models.StateWaitingForPIN {
				h.transition(a, models.WaitingForPIN())
			}
		}
	}
}

// SubmitPIN sends the PIN and waits up to VerifyTimeout for the TV to
// accept it. Silence within that window fails the attempt.
func (h *Hisense) SubmitPIN(ctx context.Context, pin string) bool {
	a := h.current()
	st := h.State().Kind
	if a == nil || (st != models.StateWaitingForPIN && st != models.StateRequestingPIN) {
		return false
	}
	h.mu.Lock()
	conn, deviceID := h.conn, h.deviceID
	h.mu.Unlock()
	if conn == nil || !h.transition(a, models.VerifyingPIN()) {
		return false
	}

	err := conn.WriteJSON(hisensePairingVerify{Type: "pairingVerify", DeviceID: deviceID, PIN: pin})
	if err != nil {
		a.result.Resolve(failure("Failed to send PIN"))
	}
	return verifyPIN(ctx, a, h.cfg.VerifyTimeout)
}

// SendAction sends a raw VIDAA action such as "launch_netflix".
func (h *Hisense) SendAction(action string) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return
	}
	h.enqueue(action, func(context.Context) error {
		return fatal(conn.WriteJSON(hisenseCommand{Type: "command", Action: action}))
	})
}

func (h *Hisense) SendCommand(button models.RemoteButton) {
	h.SendAction(hisenseAction(button))
}
