// Package logging builds the cluster's dual-sink logger: stderr until
// the node has finished its initial sync, stderr plus the cluster
// event bus afterward — the host platform consumes log traffic off its
// own bus once it is running, but nothing can until then. Routing both
// through one zap core keeps the rest of the codebase oblivious to
// which sink is live.
package logging

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BusSink receives a rendered log line once the cluster has become ready.
// internal/hooks.Hub implements this so log records can be fanned out as
// `cluster:log` style diagnostics alongside ordinary sync traffic.
type BusSink interface {
	Publish(topic string, payload any)
}

// busCore is a zapcore.Core that only writes once armed. Before arming,
// Write is a no-op so the stderr core is the sole sink.
type busCore struct {
	zapcore.LevelEnabler
	enc  zapcore.Encoder
	sink *atomic.Pointer[BusSink]
}

func newBusCore(enc zapcore.Encoder, enab zapcore.LevelEnabler, sink *atomic.Pointer[BusSink]) *busCore {
	return &busCore{LevelEnabler: enab, enc: enc, sink: sink}
}

func (c *busCore) With(fields []zapcore.Field) zapcore.Core {
	clone := c.enc.Clone()
	for _, f := range fields {
		f.AddTo(clone)
	}
	return &busCore{LevelEnabler: c.LevelEnabler, enc: clone, sink: c.sink}
}

func (c *busCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *busCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	sinkPtr := c.sink.Load()
	if sinkPtr == nil {
		return nil
	}
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	(*sinkPtr).Publish("cluster:log", map[string]any{
		"level": ent.Level.String(),
		"msg":   ent.Message,
		"line":  buf.String(),
	})
	return nil
}

func (c *busCore) Sync() error { return nil }

// Logger is the dual-sink logger. Arm switches it from the stderr-only
// mode used during startup to stderr+bus once the cluster is ready; it
// never switches back.
type Logger struct {
	*zap.Logger
	sink *atomic.Pointer[BusSink]
}

// New builds a Logger at the given level. development enables the
// human-readable console encoder and zap's development error-level
// behavior (the same `development` flag that widens the shutdown
// supervisor's fatal-event surface).
func New(level zapcore.Level, development bool) *Logger {
	var encCfg zapcore.EncoderConfig
	var enc zapcore.Encoder
	if development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	stderrCore := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(os.Stderr)), level)

	sink := &atomic.Pointer[BusSink]{}
	bus := newBusCore(enc, level, sink)

	core := zapcore.NewTee(stderrCore, bus)
	opts := []zap.Option{zap.AddCaller()}
	if development {
		opts = append(opts, zap.Development())
	}
	return &Logger{Logger: zap.New(core, opts...), sink: sink}
}

// Arm installs the bus sink, switching future log records onto
// `cluster:log` in addition to stderr. Call once, when node.ready
// becomes true; calling it again just replaces the sink reference.
func (l *Logger) Arm(sink BusSink) {
	l.sink.Store(&sink)
}
