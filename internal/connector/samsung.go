package connector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/tvremote/internal/wire"
	"github.com/HerbHall/tvremote/pkg/models"
	"go.uber.org/zap"
)

// tokenGrace is how long a saved token gets to be accepted before the
// connector assumes the TV is prompting the user again.
const tokenGrace = 3 * time.Second

// Well-known Tizen app IDs for LaunchApp.
const (
	SamsungAppNetflix    = "3201907018807"
	SamsungAppYouTube    = "111299001912"
	SamsungAppPrimeVideo = "3201910019365"
	SamsungAppDisneyPlus = "3201901017640"
	SamsungAppSpotify    = "3201606009684"
	SamsungAppBrowser    = "org.tizen.browser"
)

// Samsung event names on the remote-control channel.
const (
	samsungEvConnect      = "ms.channel.connect"
	samsungEvAuthRequired = "ms.channel.authRequired"
	samsungEvClient       = "ms.channel.clientConnect"
	samsungEvUnauthorized = "ms.channel.unauthorized"
	samsungEvTimeout      = "ms.channel.timeOut"
	samsungEvDisconnect   = "ms.channel.disconnect"
	samsungEvError        = "ms.error"
)

type samsungEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type samsungConnectData struct {
	Token flexString `json:"token"`
}

type samsungErrorData struct {
	Message string `json:"message"`
}

type samsungRemoteControl struct {
	Method string           `json:"method"`
	Params samsungKeyParams `json:"params"`
}

type samsungKeyParams struct {
	Cmd          string `json:"Cmd"`
	DataOfCmd    string `json:"DataOfCmd"`
	Option       string `json:"Option"`
	TypeOfRemote string `json:"TypeOfRemote"`
}

type samsungEmit struct {
	Method string            `json:"method"`
	Params samsungEmitParams `json:"params"`
}

type samsungEmitParams struct {
	Event string         `json:"event"`
	To    string         `json:"to"`
	Data  samsungAppData `json:"data"`
}

type samsungAppData struct {
	ID      string `json:"id"`
	MetaTag string `json:"metaTag,omitempty"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// SamsungDeviceInfo is the REST description a Tizen TV serves at /api/v2/.
type SamsungDeviceInfo struct {
	Name       string `json:"name"`
	Model      string `json:"modelName"`
	PowerState string `json:"PowerState"`
	OS         string `json:"OS"`
	WifiMac    string `json:"wifiMac"`
	TokenAuth  string `json:"TokenAuthSupport"`
}

// Samsung drives the Tizen remote-control WebSocket channel. A first
// connection needs on-TV approval and yields a token; later connections
// present the token and are accepted without a prompt.
type Samsung struct {
	base
	SecurePort   int
	InsecurePort int

	mu    sync.Mutex
	conn  *wire.WSConn
	host  string
	token string
}

func NewSamsung(cfg Config, logger *zap.Logger) *Samsung {
	s := &Samsung{SecurePort: 8002, InsecurePort: 8001}
	s.init(models.PlatformTizen, cfg, logger)
	return s
}

// AuthToken returns the pairing token in effect, saved or newly issued.
func (s *Samsung) AuthToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Samsung) channelURL(secure bool, host, token string) string {
	scheme, port := "ws", s.InsecurePort
	if secure {
		scheme, port = "wss", s.SecurePort
	}
	q := url.Values{}
	q.Set("name", base64.StdEncoding.EncodeToString([]byte(s.cfg.AppName)))
	if token != "" {
		q.Set("token", token)
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/api/v2/channels/samsung.remote.control",
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (s *Samsung) Connect(ctx context.Context, device models.TVDevice) bool {
	a := s.begin("Preparing connection...")

	s.mu.Lock()
	s.host = device.Address
	s.token = device.AuthToken
	s.conn = nil
	s.mu.Unlock()

	// Secure first; fall back to the plain port only when the socket
	// itself can't be opened.
	dialCtx, cancelDial := context.WithCancel(a.ctx)
	defer cancelDial()
	stop := context.AfterFunc(ctx, cancelDial)
	defer stop()

	var conn *wire.WSConn
	for _, secure := range []bool{true, false} {
		label := "WS"
		if secure {
			label = "WSS"
		}
		if !s.transition(a, models.Connecting(fmt.Sprintf("Connecting to Samsung TV (%s)...", label))) {
			return false
		}
		c, err := wire.DialWS(dialCtx, s.channelURL(secure, device.Address, device.AuthToken), wire.WSDialOptions{
			InsecureTLS: true,
			Timeout:     s.cfg.HandshakeTimeout,
		})
		if err == nil {
			conn = c
			break
		}
		s.logger.Debug("samsung dial failed", zap.String("ip", device.Address), zap.Bool("secure", secure), zap.Error(err))
	}
	if ctx.Err() != nil {
		if conn != nil {
			conn.Close()
		}
		s.reset(a)
		return s.finish(a, cancelled())
	}
	if conn == nil {
		return s.finish(a, failure("Could not reach Samsung TV"))
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	a.onClose(func() { conn.Close() })

	go s.readLoop(a, conn)

	if device.AuthToken == "" {
		s.transition(a, models.AwaitingApproval())
	} else {
		s.transition(a, models.Connecting("Authorizing..."))
		go func() {
			select {
			case <-time.After(tokenGrace):
				if _, done := a.result.Value(); !done {
					s.transition(a, models.AwaitingApproval())
				}
			case <-a.result.Done():
			case <-a.ctx.Done():
			}
		}()
	}

	o := s.await(ctx, a, s.cfg.ApprovalTimeout, "Timed out waiting for approval on the TV")
	if !s.finish(a, o) {
		return false
	}
	go s.keepAlive(a, conn.Ping)
	return true
}

func (s *Samsung) readLoop(a *attempt, conn *wire.WSConn) {
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
			s.lost(a, "Connection lost")
			return
		}

		var ev samsungEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		s.handleEvent(a, ev)
	}
}

func (s *Samsung) handleEvent(a *attempt, ev samsungEvent) {
	switch ev.Event {
	case samsungEvConnect:
		var d samsungConnectData
		_ = json.Unmarshal(ev.Data, &d)
		if tok := string(d.Token); tok != "" {
			s.mu.Lock()
			changed := tok != s.token
			s.token = tok
			s.mu.Unlock()
			if changed {
				s.logger.Info("received new pairing token")
			}
		}
		a.result.Resolve(outcome{ok: true})

	case samsungEvAuthRequired, samsungEvClient:
		if _, done := a.result.Value(); !done {
			s.transition(a, models.AwaitingApproval())
		}

	case samsungEvUnauthorized:
		a.result.Resolve(failure("Connection was rejected on the TV"))

	case samsungEvTimeout:
		a.result.Resolve(failure("Timed out waiting for approval on the TV"))

	case samsungEvError:
		msg := "Samsung TV reported an error"
		var d samsungErrorData
		if json.Unmarshal(ev.Data, &d) == nil && d.Message != "" {
			msg = d.Message
		}
		if !a.result.Resolve(failure(msg)) {
			s.logger.Warn("samsung error event", zap.String("reason", msg))
		}

	case samsungEvDisconnect:
		if a.result.Resolve(failure("Connection closed by TV")) {
			return
		}
		<-a.settled
		s.logger.Info("TV closed the channel")
		s.reset(a)
	}
}

func (s *Samsung) SendCommand(button models.RemoteButton) {
	s.sendKey(samsungKey(button), "Click")
}

// SendLongPress holds the key for LongPressDelay.
func (s *Samsung) SendLongPress(button models.RemoteButton) {
	key := samsungKey(button)
	if !s.sendKey(key, "Press") {
		return
	}
	time.AfterFunc(s.cfg.LongPressDelay, func() { s.sendKey(key, "Release") })
}

// SendKey clicks a key outside the common button set, e.g. "RED" or
// "KEY_GUIDE".
func (s *Samsung) SendKey(key string) {
	if !strings.HasPrefix(key, "KEY_") {
		key = "KEY_" + key
	}
	s.sendKey(key, "Click")
}

func (s *Samsung) sendKey(key, cmd string) bool {
	msg := samsungRemoteControl{
		Method: "ms.remote.control",
		Params: samsungKeyParams{
			Cmd:          cmd,
			DataOfCmd:    key,
			Option:       "false",
			TypeOfRemote: "SendRemoteKey",
		},
	}
	return s.send(key, msg)
}

// LaunchApp asks the TV to open appID. metaTag may be empty.
func (s *Samsung) LaunchApp(appID, metaTag string) {
	s.send("launch "+appID, samsungEmit{
		Method: "ms.channel.emit",
		Params: samsungEmitParams{
			Event: "ed.apps.launch",
			To:    "host",
			Data:  samsungAppData{ID: appID, MetaTag: metaTag},
		},
	})
}

func (s *Samsung) send(name string, msg any) bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return false
	}
	return s.enqueue(name, func(ctx context.Context) error {
		return fatal(conn.WriteJSON(ctx, msg))
	})
}

// DeviceInfo fetches the TV's REST description, trying the plain port
// before the TLS one.
func (s *Samsung) DeviceInfo(ctx context.Context, address string) (SamsungDeviceInfo, error) {
	urls := []string{
		"http://" + net.JoinHostPort(address, strconv.Itoa(s.InsecurePort)) + "/api/v2/",
		"https://" + net.JoinHostPort(address, strconv.Itoa(s.SecurePort)) + "/api/v2/",
	}
	client := wire.NewInsecureHTTPClient(s.cfg.DialTimeout)

	var lastErr error
	for _, u := range urls {
		status, body, err := client.Get(ctx, u)
		if err != nil {
			lastErr = err
			continue
		}
		if !wire.IsSuccess(status) {
			lastErr = fmt.Errorf("GET %s: status %d", u, status)
			continue
		}
		var doc struct {
			Device SamsungDeviceInfo `json:"device"`
		}
		if err := json.Unmarshal(body, &doc); err != nil {
			lastErr = fmt.Errorf("decode device info: %w", err)
			continue
		}
		return doc.Device, nil
	}
	return SamsungDeviceInfo{}, lastErr
}
