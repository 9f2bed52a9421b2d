package obs

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	logger   = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// InitLogger configures the shared zerolog logger. Level is one of
// debug/info/warn/error; format is "json" or "console".
func InitLogger(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	loggerMu.Lock()
	logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	loggerMu.Unlock()
}

// Log returns the shared structured logger used across the service.
func Log() zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetOutput redirects log output. Only intended for test use.
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	logger = logger.Output(w)
	loggerMu.Unlock()
}
