package tsnc

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/tsnc/backend"
	"github.com/gogpu/tsnc/classify"
	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/inference"
	"github.com/gogpu/tsnc/internal/shaderlib"
	"github.com/gogpu/tsnc/network"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false, so disabled logging skips message formatting.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

var (
	devicesMu sync.Mutex
	devices   = map[gpucore.Device]int{}
)

// SetLogger configures the logger for tsnc, its sub-packages and the
// devices of live renderers. By default nothing is logged. Pass nil to
// restore the silent default.
//
// Log levels used:
//   - [slog.LevelDebug]: buffer sizes, kernel compiles, recorded dispatches
//   - [slog.LevelInfo]: adapter selection, network loads
//   - [slog.LevelWarn]: compile failures, skipped passes, hazards
//
// SetLogger is safe for concurrent use.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	classify.SetLogger(l)
	inference.SetLogger(l)
	network.SetLogger(l)
	shaderlib.SetLogger(l)
	backend.SetLogger(l)

	devicesMu.Lock()
	defer devicesMu.Unlock()
	for dev := range devices {
		propagateLogger(dev, l)
	}
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

func slogger() *slog.Logger { return loggerPtr.Load() }

// loggerSetter is implemented by devices that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

func propagateLogger(dev gpucore.Device, l *slog.Logger) {
	if ls, ok := dev.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}

func trackDevice(dev gpucore.Device) {
	devicesMu.Lock()
	defer devicesMu.Unlock()
	devices[dev]++
	propagateLogger(dev, Logger())
}

func untrackDevice(dev gpucore.Device) {
	devicesMu.Lock()
	defer devicesMu.Unlock()
	if devices[dev]--; devices[dev] <= 0 {
		delete(devices, dev)
	}
}
