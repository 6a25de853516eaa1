/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package aputil holds small, dependency-light helpers shared across the
// fleet agent's components: logging, filesystem probes, and a throttled
// logger for noisy failure loops (lost Wi-Fi, unreachable server, ...).
package aputil

import (
	"log"
	"os"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ThrottledLogger wraps a zap sugared logger so that repeated calls to the
// same call site back off exponentially instead of spamming stderr. This is
// used on paths that retry in a loop: lost Wi-Fi, an unreachable OTA server.
type ThrottledLogger struct {
	slog      *zap.SugaredLogger
	next      time.Time
	baseDelay time.Duration
	maxDelay  time.Duration
	curDelay  time.Duration
}

var (
	atomicLevel = zap.NewAtomicLevel()
	tloggers    = make(map[string]*ThrottledLogger)
)

// Clear resets the logger's backoff to its base delay.
func (t *ThrottledLogger) Clear() {
	t.next = time.Now()
	t.curDelay = t.baseDelay
}

func (t *ThrottledLogger) ready() bool {
	var rval bool

	if now := time.Now(); now.After(t.next) {
		t.next = now.Add(t.curDelay)
		t.curDelay *= 2
		if t.curDelay > t.maxDelay {
			t.curDelay = t.maxDelay
		}
		rval = true
	}

	return rval
}

// Errorf issues an ERROR message if the backoff window has elapsed.
func (t *ThrottledLogger) Errorf(format string, a ...interface{}) {
	if t.ready() {
		t.slog.Errorf(format, a...)
	}
}

// Warnf issues a WARN message if the backoff window has elapsed.
func (t *ThrottledLogger) Warnf(format string, a ...interface{}) {
	if t.ready() {
		t.slog.Warnf(format, a...)
	}
}

// GetThrottledLogger returns a throttled logger unique to its call site. The
// first call from a given file:line allocates the logger; later calls from
// the same site reuse it, so its backoff state persists across iterations.
func GetThrottledLogger(slog *zap.SugaredLogger, start, max time.Duration) *ThrottledLogger {
	var key string
	if _, file, line, ok := runtime.Caller(1); ok {
		key = file + ":" + strconv.Itoa(line)
	} else {
		key = "unknown"
	}

	t, ok := tloggers[key]
	if !ok {
		l := slog.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar()
		t = &ThrottledLogger{
			slog:      l,
			next:      time.Now(),
			baseDelay: start,
			curDelay:  start,
			maxDelay:  max,
		}
		tloggers[key] = t
	}

	return t
}

func zapTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006/01/02 15:04:05.000"))
}

// LogSetLevel allows the log level to be adjusted while the agent runs.
func LogSetLevel(level string) error {
	var newLevel zapcore.Level

	err := (&newLevel).UnmarshalText([]byte(level))
	if err == nil {
		atomicLevel.SetLevel(newLevel)
	}
	return err
}

// NewLogger returns a 'sugared' zap logger. Each logged line carries a
// timestamp, the log level, and the calling file/line, e.g.:
//
//	2026/03/05 14:35:44.123 INFO    fleetagentd     fleetagentd/main.go:168 fleetagentd 0.1.0 starting, device id dev-1
func NewLogger(name string) *zap.SugaredLogger {
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = atomicLevel
	zapConfig.DisableStacktrace = true
	zapConfig.EncoderConfig.EncodeTime = zapTimeEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		log.Panicf("can't build logger: %s", err)
	}

	return logger.Sugar().Named(name)
}
