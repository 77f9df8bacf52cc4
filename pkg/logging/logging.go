package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// LogConfig configures a LogBackend.
type LogConfig struct {
	// LogFile is the path of the rotated log file. Empty logs to stdout only.
	LogFile string
	// DebugLevel is either a single level ("info") or a comma separated list
	// of SUBSYS=level pairs with an optional bare default ("debug,LDGR=trace").
	DebugLevel string
	// MaxLogFiles is how many rotated files are kept.
	MaxLogFiles int
	// MaxLogSizeKB is the size at which the file is rotated.
	MaxLogSizeKB int64
	// NoStdout disables the stdout copy of the log.
	NoStdout bool
}

// LogBackend hands out one slog.Logger per subsystem, all writing to the same
// outputs.
type LogBackend struct {
	backend *slog.Backend
	rotator *rotator.Rotator

	mu           sync.Mutex
	loggers      map[string]slog.Logger
	defaultLevel slog.Level
	levels       map[string]slog.Level
}

// NewLogBackend builds the backend described by cfg.
func NewLogBackend(cfg LogConfig) (*LogBackend, error) {
	defaultLevel, levels, err := parseDebugLevel(cfg.DebugLevel)
	if err != nil {
		return nil, err
	}

	var writers []io.Writer
	if !cfg.NoStdout {
		writers = append(writers, os.Stdout)
	}

	lb := &LogBackend{
		loggers:      make(map[string]slog.Logger),
		defaultLevel: defaultLevel,
		levels:       levels,
	}

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %v", err)
		}
		maxFiles := cfg.MaxLogFiles
		if maxFiles <= 0 {
			maxFiles = 3
		}
		sizeKB := cfg.MaxLogSizeKB
		if sizeKB <= 0 {
			sizeKB = 10 * 1024
		}
		r, err := rotator.New(cfg.LogFile, sizeKB, false, maxFiles)
		if err != nil {
			return nil, fmt.Errorf("failed to create file rotator: %v", err)
		}
		lb.rotator = r
		writers = append(writers, r)
	}

	var w io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		w = writers[0]
	default:
		w = io.MultiWriter(writers...)
	}
	lb.backend = slog.NewBackend(w)
	return lb, nil
}

// Logger returns the logger for subsystem, creating it on first use.
func (lb *LogBackend) Logger(subsystem string) slog.Logger {
	if lb == nil || lb.backend == nil {
		return slog.Disabled
	}
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if l, ok := lb.loggers[subsystem]; ok {
		return l
	}
	l := lb.backend.Logger(subsystem)
	level := lb.defaultLevel
	if sl, ok := lb.levels[subsystem]; ok {
		level = sl
	}
	l.SetLevel(level)
	lb.loggers[subsystem] = l
	return l
}

// Close flushes and closes the rotated log file.
func (lb *LogBackend) Close() error {
	if lb == nil || lb.rotator == nil {
		return nil
	}
	return lb.rotator.Close()
}

// parseDebugLevel understands "info" and "info,ENGN=debug,LDGR=trace".
func parseDebugLevel(s string) (slog.Level, map[string]slog.Level, error) {
	defaultLevel := slog.LevelInfo
	levels := make(map[string]slog.Level)
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultLevel, levels, nil
	}

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "=") {
			lvl, ok := slog.LevelFromString(part)
			if !ok {
				return 0, nil, fmt.Errorf("invalid debug level %q", part)
			}
			defaultLevel = lvl
			continue
		}
		fields := strings.SplitN(part, "=", 2)
		subsys, lvlStr := strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])
		if subsys == "" {
			return 0, nil, fmt.Errorf("missing subsystem in %q", part)
		}
		lvl, ok := slog.LevelFromString(lvlStr)
		if !ok {
			return 0, nil, fmt.Errorf("invalid debug level %q for subsystem %s", lvlStr, subsys)
		}
		levels[subsys] = lvl
	}
	return defaultLevel, levels, nil
}
