package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	mu      sync.Mutex
	logFile *os.File
)

/*
Config selects the level, format and destination of the global logger.
*/
type Config struct {
	Level  string
	Format string
	File   string
}

/*
Init configures the charmbracelet default logger, which every package logs
through. An empty File keeps output on stderr.
*/
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	var out io.Writer = os.Stderr

	if cfg.File != "" {
		fh, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)

		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}

		if logFile != nil {
			logFile.Close()
		}

		logFile = fh
		out = fh
	}

	level, err := log.ParseLevel(strings.ToLower(cfg.Level))

	if err != nil {
		level = log.InfoLevel
	}

	logger := log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		ReportCaller:    true,
		Formatter:       formatter(cfg.Format),
	})

	log.SetDefault(logger)
	log.Debug("logging initialized", "level", level, "file", cfg.File)

	return nil
}

func formatter(name string) log.Formatter {
	switch strings.ToLower(name) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

/*
Close releases the log file, if any.
*/
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		log.SetDefault(log.New(os.Stderr))
		logFile.Close()
		logFile = nil
	}
}
