package discovery

import (
	"context"
	"runtime"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reachability checks whether saved TVs answer ICMP echo.
type Reachability struct {
	timeout     time.Duration
	count       int
	concurrency int
	logger      *zap.Logger
}

// NewReachability creates a checker that sends count pings per host.
func NewReachability(timeout time.Duration, count int, logger *zap.Logger) *Reachability {
	if count < 1 {
		count = 1
	}
	return &Reachability{
		timeout:     timeout,
		count:       count,
		concurrency: 16,
		logger:      logger.Named("reachability"),
	}
}

// Check pings ip and reports whether any reply arrived, with the average RTT.
func (r *Reachability) Check(ctx context.Context, ip string) (bool, time.Duration) {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		r.logger.Debug("failed to create pinger", zap.String("ip", ip), zap.Error(err))
		return false, 0
	}
	pinger.Count = r.count
	pinger.Timeout = r.timeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := pinger.Run(); err != nil {
			r.logger.Debug("ping failed", zap.String("ip", ip), zap.Error(err))
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return false, 0
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return true, stats.AvgRtt
	}
	return false, 0
}

// CheckAll pings every address concurrently.
func (r *Reachability) CheckAll(ctx context.Context, ips []string) map[string]bool {
	out := make(map[string]bool, len(ips))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, ip := range ips {
		g.Go(func() error {
			ok, _ := r.Check(ctx, ip)
			mu.Lock()
			out[ip] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
