package pkg

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/mtaylor91/chess-relay/pkg/config"
)

// ConfigureLogging applies the logging settings to the standard logrus
// logger.
func ConfigureLogging(cfg config.LoggingConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	log.SetLevel(level)
	return nil
}
