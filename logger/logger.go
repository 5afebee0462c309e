package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Security event names logged under the "security_event" key.
const (
	EventFailedHMAC       = "failed_hmac"
	EventInvalidTimestamp = "invalid_timestamp"
	EventDuplicateEvent   = "duplicate_event"
	EventRateLimited      = "rate_limited"
	EventMissingHeaders   = "missing_headers"
)

// SecurityEvent tags a log line as security relevant.
func SecurityEvent(name string) zap.Field {
	return zap.String("security_event", name)
}

// New builds the process logger. Production uses JSON with ISO8601
// timestamps; everything else uses the coloured console encoder.
func New(env, level string) (*zap.Logger, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	return config.Build()
}
