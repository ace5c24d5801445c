package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/HerbHall/tvremote/internal/config"
	"github.com/HerbHall/tvremote/internal/connection"
	"github.com/HerbHall/tvremote/internal/connector"
	"github.com/HerbHall/tvremote/internal/discovery"
	"github.com/HerbHall/tvremote/internal/event"
	"github.com/HerbHall/tvremote/internal/registry"
	"github.com/HerbHall/tvremote/internal/store"
	"github.com/HerbHall/tvremote/internal/tier"
	"github.com/HerbHall/tvremote/internal/version"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app is the composition root shared by every subcommand.
type app struct {
	v       *viper.Viper
	logger  *zap.Logger
	db      *store.SQLiteStore
	bus     *event.Bus
	ent     *tier.Entitlement
	devices *registry.Registry
	engine  *discovery.Engine
	reach   *discovery.Reachability
	conn    *connection.Manager
}

// section pairs a config key with the struct it decodes into.
type section struct {
	key    string
	target any
}

func decodeSections(v *viper.Viper, sections ...section) error {
	for _, s := range sections {
		if err := config.Section(v, s.key, s.target); err != nil {
			return err
		}
	}
	return nil
}

// newApp loads configuration, opens the database and builds the core.
// overrides run after the config file is read, so flags win.
func newApp(ctx context.Context, configPath string, overrides ...func(*viper.Viper)) (*app, error) {
	v, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	host := tier.DetectHostClass()
	tier.ApplyHostDefaults(v, host)
	for _, o := range overrides {
		o(v)
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		return nil, err
	}
	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("component", "config"), zap.String("source", f))
	} else {
		logger.Debug("no configuration file found, using defaults", zap.String("component", "config"))
	}
	logger.Debug("host classified", zap.Stringer("class", host))

	tierCfg := tier.DefaultConfig()
	discCfg := discovery.DefaultConfig()
	connCfg := connector.DefaultConfig()
	if err := decodeSections(v,
		section{"tier", &tierCfg},
		section{"discovery", &discCfg},
		section{"connector", &connCfg},
	); err != nil {
		return nil, err
	}

	ent, err := tier.New(tierCfg)
	if err != nil {
		return nil, fmt.Errorf("tier config: %w", err)
	}

	dbPath := v.GetString("database.path")
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := store.New(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("database initialized", zap.String("component", "database"), zap.String("path", dbPath))

	bus := event.NewBus(logger.Named("event"))
	devices := registry.New(ctx, db, ent, ent.FreeDeviceLimit(), logger)

	return &app{
		v:       v,
		logger:  logger,
		db:      db,
		bus:     bus,
		ent:     ent,
		devices: devices,
		engine:  discovery.New(discCfg, bus, logger),
		reach:   discovery.NewReachability(v.GetDuration("reachability.timeout"), v.GetInt("reachability.count"), logger),
		conn:    connection.NewManager(connCfg, devices, ent, bus, logger),
	}, nil
}

// Close stops background work and releases the database.
func (a *app) Close() {
	a.engine.Stop()
	a.conn.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("closing database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
