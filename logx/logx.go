// Package logx builds the process logger: a zap core writing through an
// async rolling file sink. One consumer goroutine drains a bounded queue;
// producers fall back to a synchronous write when the queue is full or
// async is off, so no line is ever dropped.
package logx

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Enabled  bool
	Level    int // 0 debug, 1 info, 2 warn, 3 error
	Dir      string
	Suffix   string // e.g. ".log"
	MaxLines int    // per-file line cap before rolling
	QueueCap int    // >0 enables the async queue
}

// New returns a ready logger and its sink. A disabled config yields a nop
// logger and a nil sink. The caller owns Close on the sink.
func New(cfg Config) (*zap.Logger, *Writer, error) {
	if !cfg.Enabled {
		return zap.NewNop(), nil, nil
	}
	w, err := NewWriter(cfg.Dir, cfg.Suffix, cfg.MaxLines, cfg.QueueCap)
	if err != nil {
		return nil, nil, err
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), levelFor(cfg.Level))
	return zap.New(core), w, nil
}

func levelFor(n int) zapcore.Level {
	switch n {
	case 0:
		return zapcore.DebugLevel
	case 1:
		return zapcore.InfoLevel
	case 2:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// Writer is the rolling file sink. Files are named
// <dir>/YYYY_MM_DD<suffix> from the full local date of the writing call
// and rolled when the date changes or the line cap is hit; same-day
// overflow files get a -N index.
type Writer struct {
	dir      string
	suffix   string
	maxLines int

	mu    sync.Mutex // guards file, counters, roll state
	f     *os.File
	day   string
	lines int
	rolls int

	qmu     sync.RWMutex // guards queue lifecycle vs producers
	queue   chan []byte
	closed  bool
	drained chan struct{}
}

func NewWriter(dir, suffix string, maxLines, queueCap int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}
	w := &Writer{
		dir:      dir,
		suffix:   suffix,
		maxLines: maxLines,
		day:      time.Now().Format("2006_01_02"),
	}
	if err := w.reopen(); err != nil {
		return nil, err
	}
	if queueCap > 0 {
		w.queue = make(chan []byte, queueCap)
		w.drained = make(chan struct{})
		go w.consume()
	}
	return w, nil
}

// Write enqueues one preformatted line. The line is copied because zap
// reuses its encode buffer. A full queue degrades to a synchronous write
// instead of blocking the producer.
func (w *Writer) Write(p []byte) (int, error) {
	w.qmu.RLock()
	if w.queue != nil && !w.closed {
		line := make([]byte, len(p))
		copy(line, p)
		select {
		case w.queue <- line:
			w.qmu.RUnlock()
			return len(p), nil
		default:
		}
	}
	w.qmu.RUnlock()
	return w.writeLine(p)
}

func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Sync()
}

// Close stops the consumer after it drains the queue, then flushes and
// closes the file. Late writes fall back to the synchronous path.
func (w *Writer) Close() error {
	w.qmu.Lock()
	if w.queue != nil && !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.qmu.Unlock()
	if w.drained != nil {
		<-w.drained
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

func (w *Writer) consume() {
	for line := range w.queue {
		_, _ = w.writeLine(line)
	}
	close(w.drained)
}

func (w *Writer) writeLine(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := time.Now().Format("2006_01_02")
	switch {
	case day != w.day:
		w.day = day
		w.rolls = 0
		w.lines = 0
		if err := w.reopen(); err != nil {
			return 0, err
		}
	case w.maxLines > 0 && w.lines >= w.maxLines:
		w.rolls++
		w.lines = 0
		if err := w.reopen(); err != nil {
			return 0, err
		}
	}

	n, err := w.f.Write(p)
	if err == nil {
		w.lines++
	}
	return n, err
}

// reopen swaps the current file for the one named by day and roll index.
// Caller holds mu (or is the constructor).
func (w *Writer) reopen() error {
	name := w.day + w.suffix
	if w.rolls > 0 {
		name = fmt.Sprintf("%s-%d%s", w.day, w.rolls, w.suffix)
	}
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("log file: %w", err)
	}
	if w.f != nil {
		_ = w.f.Sync()
		_ = w.f.Close()
	}
	w.f = f
	return nil
}
