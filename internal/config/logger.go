package config

import (
	"fmt"
	"strings"

	"github.com/HerbHall/tvremote/internal/version"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// redactedKeys are field names whose values never reach a log sink.
// Pairing PINs, Samsung tokens and LG client-keys all end up here.
var redactedKeys = map[string]bool{
	"pin":        true,
	"token":      true,
	"auth_token": true,
	"client_key": true,
	"client-key": true,
}

const redacted = "[redacted]"

// NewLogger builds the process logger from the logging section:
//
//	logging.level   debug | info | warn | error (default info)
//	logging.format  json | console (default json)
//	logging.file    optional path, written in addition to stderr
//
// Logs always go to stderr so stdout stays free for CLI tables and
// --json output.
func NewLogger(v *viper.Viper) (*zap.Logger, error) {
	level := v.GetString("logging.level")
	format := v.GetString("logging.format")

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	case "json", "":
		cfg = zap.NewProductionConfig()
		cfg.InitialFields = map[string]any{
			"service": "tvremote",
			"version": version.Short(),
		}
	default:
		return nil, fmt.Errorf("invalid log format %q: must be \"json\" or \"console\"", format)
	}

	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.OutputPaths = []string{"stderr"}
	if file := strings.TrimSpace(v.GetString("logging.file")); file != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, file)
	}

	return cfg.Build(zap.WrapCore(Redact))
}

// Redact wraps core so that fields named in redactedKeys are masked.
func Redact(core zapcore.Core) zapcore.Core {
	return redactCore{core}
}

type redactCore struct {
	zapcore.Core
}

func (c redactCore) With(fields []zapcore.Field) zapcore.Core {
	return redactCore{c.Core.With(redactFields(fields))}
}

func (c redactCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c redactCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, f := range fields {
		if !redactedKeys[strings.ToLower(f.Key)] {
			continue
		}
		if out == nil {
			out = append([]zapcore.Field(nil), fields...)
		}
		out[i] = zap.String(f.Key, redacted)
	}
	if out == nil {
		return fields
	}
	return out
}
