// Package logger provides the slog-backed structured logger used across the
// sync engine. It mirrors the level-resolution and atomic-level pattern used
// for RTMP connection logging in sibling packages: flag, then environment
// variable, then a safe default.
package logger

import (
	"flag"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const envLogLevel = "AVSYNC_LOG_LEVEL"

var (
	atomicLevel = &dynamicLevel{v: int64(slog.LevelInfo)}
	global      *slog.Logger
	initOnce    sync.Once

	flagLevel = flag.String("avsync.log.level", "", "avsync log level (debug, info, warn, error)")
)

type dynamicLevel struct{ v int64 }

func (d *dynamicLevel) Level() slog.Level { return slog.Level(atomic.LoadInt64(&d.v)) }
func (d *dynamicLevel) set(l slog.Level)  { atomic.StoreInt64(&d.v, int64(l)) }

// Init initializes the global logger. Safe to call multiple times; only the
// first call constructs the handler.
func Init() {
	initOnce.Do(func() {
		atomicLevel.set(detectLevel())
		global = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: atomicLevel}))
	})
}

func detectLevel() slog.Level {
	if *flagLevel == "" {
		for _, arg := range os.Args[1:] {
			if strings.HasPrefix(arg, "-avsync.log.level=") {
				parts := strings.SplitN(arg, "=", 2)
				if len(parts) == 2 {
					*flagLevel = parts[1]
				}
			}
		}
	}
	if *flagLevel != "" {
		if lvl, ok := parseLevel(*flagLevel); ok {
			return lvl
		}
	}
	if env := os.Getenv(envLogLevel); env != "" {
		if lvl, ok := parseLevel(env); ok {
			return lvl
		}
	}
	return slog.LevelInfo
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "err":
		return slog.LevelError, true
	}
	return 0, false
}

// SetLevel changes the runtime log level.
func SetLevel(level string) bool {
	Init()
	lvl, ok := parseLevel(level)
	if !ok {
		return false
	}
	atomicLevel.set(lvl)
	return true
}

// UseWriter swaps the output writer. Intended for tests.
func UseWriter(w io.Writer) {
	Init()
	global = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: atomicLevel}))
}

// Logger returns the process-global structured logger.
func Logger() *slog.Logger { Init(); return global }

// WithWorker attaches the worker identity (demux, audio-render, ...) that
// emitted the log line.
func WithWorker(l *slog.Logger, worker string) *slog.Logger {
	return l.With("worker", worker)
}

// WithEpoch attaches the current seek epoch.
func WithEpoch(l *slog.Logger, epoch uint64) *slog.Logger {
	return l.With("epoch", epoch)
}
