package main

import (
	"context"
	"fmt"
	"time"

	"github.com/HerbHall/tvremote/internal/metrics"
	"github.com/HerbHall/tvremote/internal/mqtt"
	"github.com/HerbHall/tvremote/internal/server"
	"github.com/HerbHall/tvremote/internal/version"
	"github.com/HerbHall/tvremote/internal/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newServeCmd(open opener) *cobra.Command {
	var (
		host     string
		port     int
		readOnly bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP and WebSocket control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd, func(v *viper.Viper) {
				if cmd.Flags().Changed("host") {
					v.Set("server.host", host)
				}
				if cmd.Flags().Changed("port") {
					v.Set("server.port", port)
				}
				if cmd.Flags().Changed("read-only") {
					v.Set("server.read_only", readOnly)
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(cmd)
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen address")
	cmd.Flags().IntVar(&port, "port", 8765, "listen port")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "reject every request that changes state")
	return cmd
}

func (a *app) serve(cmd *cobra.Command) error {
	ctx := cmd.Context()

	srvCfg := server.DefaultConfig()
	mqttCfg := mqtt.DefaultConfig()
	if err := decodeSections(a.v, section{"server", &srvCfg}, section{"mqtt", &mqttCfg}); err != nil {
		return err
	}

	collectors, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	collectors.Subscribe(a.bus)
	defer collectors.Unsubscribe()

	sink := mqtt.New(mqttCfg, a.logger)
	if err := sink.Start(ctx); err != nil {
		return err
	}
	sink.Subscribe(a.bus)
	a.devices.OnRemove(sink.Forget)
	defer sink.Stop()

	wsHandler := ws.NewHandler(a.bus, a.conn, srvCfg.AllowedOrigins, a.logger)
	defer wsHandler.Close()

	api := server.NewAPI(a.engine, a.devices, a.conn, a.reach, a.logger)
	ready := server.ReadinessChecker(func(ctx context.Context) error {
		return a.db.DB().PingContext(ctx)
	})
	srv := server.New(srvCfg, api, a.logger, ready, wsHandler)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	a.logger.Info("tvremote ready",
		zap.String("addr", srvCfg.Addr()),
		zap.String("version", version.Short()),
		zap.Bool("read_only", srvCfg.ReadOnly),
	)
	fmt.Fprintf(cmd.ErrOrStderr(), "\n  tvremote %s is listening on http://%s\n\n", version.Short(), srvCfg.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("received shutdown signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.logger.Info("tvremote stopped")
	return nil
}
