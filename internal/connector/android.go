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

// AndroidTV streams `input keyevent` lines over the network debug bridge
// port. There is no authentication step.
type AndroidTV struct {
	base
	Port int

	connMu sync.Mutex
	conn   *wire.StreamConn
}

func NewAndroidTV(cfg Config, logger *zap.Logger) *AndroidTV {
	c := &AndroidTV{Port: models.PlatformAndroidTV.DefaultPort()}
	c.init(models.PlatformAndroidTV, cfg, logger)
	return c
}

func (c *AndroidTV) Connect(ctx context.Context, device models.TVDevice) bool {
	a := c.begin("Connecting to Android TV...")

	go func() {
		addr := net.JoinHostPort(device.Address, strconv.Itoa(c.Port))
		conn, err := wire.DialStream(a.ctx, addr, c.cfg.DialTimeout)
		if err != nil {
			c.logger.Debug("adb dial failed", zap.String("ip", device.Address), zap.Error(err))
			a.result.Resolve(failure("Failed to connect via ADB TCP"))
			return
		}
		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		a.onClose(func() { conn.Close() })

		a.result.Resolve(outcome{ok: true})

		// The TV never talks back; a read only returns when the socket dies.
		err = conn.Drain()
		<-a.settled
		if a.ctx.Err() == nil {
			c.logger.Debug("adb socket closed", zap.Error(err))
			c.lost(a, "Connection lost")
		}
	}()

	return c.finish(a, c.await(ctx, a, c.cfg.DialTimeout+c.cfg.HandshakeTimeout, "Failed to connect via ADB TCP"))
}

func (c *AndroidTV) SendCommand(button models.RemoteButton) {
	code, ok := androidKeycodes[button]
	if !ok {
		return
	}
	c.SendKeycode(code)
}

// SendKeycode sends any Android KEYCODE_* value.
func (c *AndroidTV) SendKeycode(code int) {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return
	}
	c.enqueue(fmt.Sprintf("keyevent %d", code), func(context.Context) error {
		return fatal(conn.WriteLine(fmt.Sprintf("input keyevent %d", code)))
	})
}
