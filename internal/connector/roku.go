package connector

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/HerbHall/tvremote/internal/wire"
	"github.com/HerbHall/tvremote/pkg/models"
	"go.uber.org/zap"
)

// Roku speaks ECP: a device-info GET to connect, one POST per key press.
// There is no session; "connected" only means the TV answered.
type Roku struct {
	base
	Port int

	http *wire.HTTPClient

	mu   sync.Mutex
	host string
}

func NewRoku(cfg Config, logger *zap.Logger) *Roku {
	r := &Roku{Port: models.PlatformRoku.DefaultPort(), http: wire.NewHTTPClient(cfg.DialTimeout)}
	r.init(models.PlatformRoku, cfg, logger)
	return r
}

func (r *Roku) baseURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return "http://" + net.JoinHostPort(r.host, strconv.Itoa(r.Port))
}

func (r *Roku) Connect(ctx context.Context, device models.TVDevice) bool {
	a := r.begin("Connecting to Roku TV...")
	r.mu.Lock()
	r.host = device.Address
	r.mu.Unlock()

	go func() {
		hctx, cancel := context.WithTimeout(a.ctx, r.cfg.HandshakeTimeout)
		defer cancel()
		status, _, err := r.http.Get(hctx, r.baseURL()+"/query/device-info")
		switch {
		case err != nil:
			r.logger.Debug("device-info request failed", zap.String("ip", device.Address), zap.Error(err))
			a.result.Resolve(failure("Could not reach Roku TV"))
		case !wire.IsSuccess(status):
			a.result.Resolve(failure("Device not responding"))
		default:
			a.result.Resolve(outcome{ok: true})
		}
	}()

	return r.finish(a, r.await(ctx, a, r.cfg.HandshakeTimeout, "Device not responding"))
}

func (r *Roku) SendCommand(button models.RemoteButton) {
	key, ok := rokuKeys[button]
	if !ok {
		return
	}
	r.SendKey(key)
}

// SendKey posts a raw ECP key name such as "Lit_a" or "Search".
func (r *Roku) SendKey(key string) {
	url := r.baseURL() + "/keypress/" + key
	r.enqueue(key, func(ctx context.Context) error {
		status, err := r.http.Post(ctx, url, "")
		if err != nil {
			return err
		}
		if !wire.IsSuccess(status) {
			return fmt.Errorf("keypress %s: status %d", key, status)
		}
		return nil
	})
}
