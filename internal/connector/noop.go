package connector

import (
	"context"

	"github.com/HerbHall/tvremote/pkg/models"
	"go.uber.org/zap"
)

// Noop stands in for platforms without a protocol. It connects trivially
// and swallows commands.
type Noop struct {
	base
}

func NewNoop(logger *zap.Logger) *Noop {
	n := &Noop{}
	n.init(models.PlatformUnknown, DefaultConfig(), logger)
	return n
}

func (n *Noop) Connect(_ context.Context, device models.TVDevice) bool {
	a := n.begin("Connecting...")
	a.result.Resolve(outcome{ok: true})
	return n.finish(a, outcome{ok: true})
}

func (n *Noop) SendCommand(button models.RemoteButton) {
	n.enqueue(string(button), func(context.Context) error {
		n.logger.Debug("command ignored", zap.String("button", string(button)))
		return nil
	})
}
