// Package diagnostics is a zero-allocation event log for the resident
// image: a small pre-allocated ring buffer of fixed-size records (no heap
// churn) that can be read back over a debug UART after a suspicious reset,
// plus a log/slog.Handler that mirrors every record to the console.
package diagnostics

import (
	"context"
	"log/slog"
)

// Kind identifies what an Event records.
type Kind uint8

const (
	KindPhase Kind = iota
	KindCRC
	KindRetryExhausted
	KindFinalize
	KindBootDecision
)

func (k Kind) String() string {
	switch k {
	case KindPhase:
		return "phase"
	case KindCRC:
		return "crc"
	case KindRetryExhausted:
		return "retry-exhausted"
	case KindFinalize:
		return "finalize"
	case KindBootDecision:
		return "boot-decision"
	default:
		return "unknown"
	}
}

// detailLen is fixed and small: enough for a short tag plus one or two
// numbers.
const detailLen = 24

// Event is one ring buffer record: a monotonic sequence number (ticks have
// no wall clock on a bootloader-stage resident image, so this is a counter
// rather than a timestamp), a Kind, and a short ASCII detail string.
type Event struct {
	Seq    uint32
	Kind   Kind
	Detail [detailLen]byte
	detLen uint8
}

// Text returns Detail as a string.
func (e Event) Text() string { return string(e.Detail[:e.detLen]) }

// ringSize is scaled so an IAP session's full history fits without
// overwriting the start of a typical programming run.
const ringSize = 32

// Log is the ring buffer plus console bridge. The zero value is ready to
// use.
type Log struct {
	events [ringSize]Event
	head   int
	count  int
	seq    uint32
	logger *slog.Logger
}

// New returns a Log that mirrors every Record call to logger at Info level
// (pass nil to disable console mirroring).
func New(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

// Record appends one event to the ring, overwriting the oldest entry once
// full, and mirrors it to the console logger if one was configured.
func (l *Log) Record(k Kind, detail string) {
	var e Event
	e.Seq = l.seq
	l.seq++
	e.Kind = k
	n := copy(e.Detail[:], detail)
	e.detLen = uint8(n)

	l.events[l.head] = e
	l.head = (l.head + 1) % ringSize
	if l.count < ringSize {
		l.count++
	}

	if l.logger != nil {
		l.logger.Info("iap:"+k.String(), slog.String("detail", e.Text()), slog.Int("seq", int(e.Seq)))
	}
}

// Recent returns up to n most-recent events, oldest first.
func (l *Log) Recent(n int) []Event {
	if n > l.count {
		n = l.count
	}
	out := make([]Event, n)
	start := (l.head - n + ringSize) % ringSize
	for i := 0; i < n; i++ {
		out[i] = l.events[(start+i)%ringSize]
	}
	return out
}

// Handler bridges a text slog.Handler and this Log: every record is
// written to both, for wiring into slog.New.
type Handler struct {
	text slog.Handler
	log  *Log
}

// NewHandler builds a Handler writing text-formatted records to textHandler
// and mirroring Info-and-above records into log.
func NewHandler(textHandler slog.Handler, log *Log) *Handler {
	return &Handler{text: textHandler, log: log}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.text.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	err := h.text.Handle(ctx, r)
	if r.Level >= slog.LevelInfo && h.log != nil {
		h.log.Record(KindPhase, r.Message)
	}
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{text: h.text.WithAttrs(attrs), log: h.log}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{text: h.text.WithGroup(name), log: h.log}
}
