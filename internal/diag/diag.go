// Package diag is the append-only diagnostics trail: state transitions,
// discoveries, raw frames and protocol errors. Writes never block the caller.
package diag

import (
	"encoding/base64"
	"encoding/hex"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Direction of a dumped frame.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "rx"
	}
	return "tx"
}

// Sink receives diagnostics. Implementations must not block.
type Sink interface {
	Event(msg string, fields ...zap.Field)
	Frame(dir Direction, device string, data []byte)
}

// Nop returns a Sink that discards everything.
func Nop() Sink { return nopSink{} }

type nopSink struct{}

func (nopSink) Event(string, ...zap.Field)       {}
func (nopSink) Frame(Direction, string, []byte) {}

// DropCounter is notified for every discarded entry.
type DropCounter interface {
	DiagnosticDropped()
}

// Options tune an AsyncSink.
type Options struct {
	// FramesPerSecond caps frame dumps; excess dumps are dropped. Zero
	// disables the cap.
	FramesPerSecond float64
	// Buffer is the queue length between callers and the writer goroutine.
	Buffer int
	// Drops is optional.
	Drops DropCounter
}

type entry struct {
	at     time.Time
	msg    string
	fields []zap.Field
}

// AsyncSink queues entries on a bounded channel drained by one goroutine
// into a JSON zap logger.
type AsyncSink struct {
	logger  *zap.Logger
	limiter *rate.Limiter
	drops   DropCounter
	closer  io.Closer

	mu      sync.RWMutex
	closed  bool
	ch      chan entry
	done    chan struct{}
	dropped atomic.Int64
}

// New starts a sink writing JSON lines to w.
func New(w io.Writer, opts Options) *AsyncSink {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(w), zapcore.DebugLevel)

	s := &AsyncSink{
		logger: zap.New(core),
		drops:  opts.Drops,
		ch:     make(chan entry, opts.Buffer),
		done:   make(chan struct{}),
	}
	if opts.FramesPerSecond > 0 {
		burst := max(int(opts.FramesPerSecond), 1)
		s.limiter = rate.NewLimiter(rate.Limit(opts.FramesPerSecond), burst)
	}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	go s.run()
	return s
}

// FileOptions locate and bound the diagnostics file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewFile starts a sink writing to a size-rotated file.
func NewFile(f FileOptions, opts Options) *AsyncSink {
	lj := &lumberjack.Logger{
		Filename:   f.Path,
		MaxSize:    f.MaxSizeMB,
		MaxBackups: f.MaxBackups,
		MaxAge:     f.MaxAgeDays,
		Compress:   f.Compress,
	}
	return New(lj, opts)
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for e := range s.ch {
		if ce := s.logger.Check(zapcore.InfoLevel, e.msg); ce != nil {
			ce.Time = e.at
			ce.Write(e.fields...)
		}
	}
}

func (s *AsyncSink) enqueue(e entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop()
		return
	}
	select {
	case s.ch <- e:
	default:
		s.drop()
	}
}

func (s *AsyncSink) drop() {
	s.dropped.Add(1)
	if s.drops != nil {
		s.drops.DiagnosticDropped()
	}
}

// Event records a diagnostic message.
func (s *AsyncSink) Event(msg string, fields ...zap.Field) {
	s.enqueue(entry{at: time.Now(), msg: msg, fields: fields})
}

// Frame records a raw frame as hex and base64, subject to the frame rate cap.
func (s *AsyncSink) Frame(dir Direction, device string, data []byte) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.drop()
		return
	}
	s.enqueue(entry{
		at:  time.Now(),
		msg: "frame",
		fields: []zap.Field{
			zap.String("dir", dir.String()),
			zap.String("device", device),
			zap.String("hex", hex.EncodeToString(data)),
			zap.String("b64", base64.StdEncoding.EncodeToString(data)),
		},
	})
}

// Dropped returns how many entries were discarded.
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close flushes queued entries and closes the underlying writer if it is
// an io.Closer. Entries submitted after Close are dropped.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	<-s.done
	_ = s.logger.Sync()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
