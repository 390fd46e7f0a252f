// Package logging centralizes log setup: a daily-rolling file plus
// stderr, with structured fields via logrus.WithFields rather than the
// standard library's log package.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds a logrus.Logger writing to both stderr and a daily file
// under dir. verbose raises the level to Debug.
func New(dir string, verbose bool) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: create log dir: %w", err)
		}
		hook, err := newDailyFileHook(dir)
		if err != nil {
			return nil, err
		}
		logger.AddHook(hook)
	}

	return logger, nil
}

// dailyFileHook reopens a new file named sentineld-YYYY-MM-DD.log whenever
// the wall-clock date rolls over.
type dailyFileHook struct {
	mu      sync.Mutex
	dir     string
	day     string
	file    *os.File
	formatter logrus.Formatter
}

func newDailyFileHook(dir string) (*dailyFileHook, error) {
	h := &dailyFileHook{dir: dir, formatter: &logrus.TextFormatter{FullTimestamp: true}}
	if err := h.rotate(time.Now()); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *dailyFileHook) rotate(now time.Time) error {
	day := now.Format("2006-01-02")
	if day == h.day && h.file != nil {
		return nil
	}
	path := filepath.Join(h.dir, fmt.Sprintf("sentineld-%s.log", day))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", path, err)
	}
	if h.file != nil {
		h.file.Close()
	}
	h.file = f
	h.day = day
	return nil
}

func (h *dailyFileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *dailyFileHook) Fire(entry *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.rotate(entry.Time); err != nil {
		return err
	}
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.file.Write(line)
	return err
}

// Once rate-limits repeated log lines for the same key. The registry
// collector uses it with an interval that never elapses, so each key's
// read failure is logged a single time; the file collector uses it for
// its once-per-minute watch_overflow warning.
type Once struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewOnce creates an empty Once tracker.
func NewOnce() *Once {
	return &Once{seen: make(map[string]time.Time)}
}

// Allow reports whether key may fire again: true the first time, and
// again only after minInterval has elapsed since the last fire.
func (o *Once) Allow(key string, minInterval time.Duration) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	last, ok := o.seen[key]
	now := time.Now()
	if ok && now.Sub(last) < minInterval {
		return false
	}
	o.seen[key] = now
	return true
}
