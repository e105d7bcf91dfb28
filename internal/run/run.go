package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"trisonica-logger/internal/notify"
	"trisonica-logger/internal/stats"
	"trisonica-logger/internal/storage"
	"trisonica-logger/internal/trisonica"
)

const (
	// Reconnect backoff: 1s, 2s, 4s, then 5s forever.
	searchBackoffMin = 1 * time.Second
	searchBackoffMax = 5 * time.Second

	// Unclassified read errors tolerated before the port is reopened.
	maxConsecutiveReadErrors = 5
)

// Options wires a Loop. Provider, Parser, Validator, Target, Tracker and
// Log are required; zero intervals get defaults.
type Options struct {
	Provider  trisonica.Provider
	Parser    *trisonica.Parser
	Validator *trisonica.Validator
	Target    *storage.Target
	Tracker   *stats.Tracker
	Notifier  notify.Notifier
	Log       *logrus.Entry

	ReadTimeout    time.Duration // silence threshold before reopening the port
	StatsInterval  time.Duration
	StatusInterval time.Duration
	NoWait         bool // fail instead of waiting when no device is found at startup
}

// Loop is the acquisition loop: read a line, parse, validate, write, count.
// Everything runs sequentially on the caller's goroutine; reconnects and
// periodic flushes happen inline between reads.
type Loop struct {
	provider  trisonica.Provider
	parser    *trisonica.Parser
	validator *trisonica.Validator
	target    *storage.Target
	tracker   *stats.Tracker
	notifier  notify.Notifier
	log       *logrus.Entry

	readTimeout  time.Duration
	statsEvery   time.Duration
	statusEvery  time.Duration
	noWait       bool
	unclassified int
}

func New(o Options) *Loop {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 5 * time.Second
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = time.Minute
	}
	if o.StatusInterval <= 0 {
		o.StatusInterval = 10 * time.Second
	}
	if o.Notifier == nil {
		o.Notifier = notify.Nop{}
	}
	return &Loop{
		provider:    o.Provider,
		parser:      o.Parser,
		validator:   o.Validator,
		target:      o.Target,
		tracker:     o.Tracker,
		notifier:    o.Notifier,
		log:         o.Log,
		readTimeout: o.ReadTimeout,
		statsEvery:  o.StatsInterval,
		statusEvery: o.StatusInterval,
		noWait:      o.NoWait,
	}
}

// Run acquires until the context is cancelled or storage fails. Connection
// loss is handled inline: the port is reopened with backoff and the run
// continues into the same files. Only storage errors end the run early.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.connect(ctx, l.noWait); err != nil {
		if ctx.Err() != nil {
			return l.finish("shutdown")
		}
		if ferr := l.finish("no device"); ferr != nil {
			l.log.WithError(ferr).Warn("final flush failed")
		}
		return err
	}
	if ctx.Err() != nil {
		return l.finish("shutdown")
	}

	l.log.WithFields(logrus.Fields{
		"device": l.provider.Name(),
		"file":   l.target.DataPath,
	}).Info("logging started")

	lastStats := time.Now()
	lastStatus := time.Now()

	for {
		select {
		case <-ctx.Done():
			return l.finish("shutdown")
		default:
		}

		line, err := l.provider.ReadLine(l.readTimeout)
		switch {
		case err == nil:
			l.unclassified = 0
			if herr := l.handleLine(line); herr != nil {
				return l.fatal(herr)
			}

		case errors.Is(err, trisonica.ErrReadTimeout):
			l.log.Warnf("no data for %v, reopening port", l.readTimeout)
			if l.reconnect(ctx) != nil {
				return l.finish("shutdown")
			}

		case errors.Is(err, trisonica.ErrDisconnected), errors.Is(err, trisonica.ErrNotConnected):
			l.log.Warnf("device lost: %v", err)
			if l.reconnect(ctx) != nil {
				return l.finish("shutdown")
			}

		default:
			l.unclassified++
			l.log.WithError(err).Warn("read failed")
			if l.unclassified >= maxConsecutiveReadErrors {
				l.log.Warnf("%d consecutive read failures, reopening port", l.unclassified)
				l.unclassified = 0
				if l.reconnect(ctx) != nil {
					return l.finish("shutdown")
				}
			}
		}

		now := time.Now()
		if now.Sub(lastStats) >= l.statsEvery {
			if err := l.target.FlushStats(l.tracker.Snapshot()); err != nil {
				return l.fatal(fmt.Errorf("flush stats: %w", err))
			}
			lastStats = now
		}
		if now.Sub(lastStatus) >= l.statusEvery {
			l.reportStatus()
			lastStatus = now
		}
	}
}

// handleLine runs one line through parse, validate, write and count. A line
// with nothing usable only bumps a counter; a storage error is returned and
// ends the run.
func (l *Loop) handleLine(line string) error {
	frame, err := l.parser.Parse(line, time.Now())
	if err != nil {
		l.tracker.RecordParseFailure()
		l.log.WithField("line", line).Debug("unparseable line")
		return nil
	}

	rec := l.validator.Validate(frame)
	if err := l.target.Append(rec); err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	l.tracker.RecordRow()
	l.tracker.Observe(rec)

	if rec.HasError() {
		l.log.WithField("fields", strings.Join(rec.ErrorFields(), ",")).Debug("frame has failed fields")
	}
	l.notifier.Wrote()
	return nil
}

// connect opens the provider, retrying with backoff until it succeeds or the
// context is cancelled. With failFast a single failed attempt is final.
func (l *Loop) connect(ctx context.Context, failFast bool) error {
	delay := searchBackoffMin
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := l.provider.Connect()
		if err == nil {
			l.log.WithField("device", l.provider.Name()).Infof("connected (attempt %d)", attempt)
			return nil
		}
		if failFast {
			return fmt.Errorf("connect: %w", err)
		}
		l.log.Warnf("connect attempt %d failed: %v (retry in %v)", attempt, err, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > searchBackoffMax {
			delay = searchBackoffMax
		}
	}
}

// reconnect closes and reopens the port, waiting as long as it takes. It
// only fails when the context is cancelled, so the caller treats any error
// as shutdown.
func (l *Loop) reconnect(ctx context.Context) error {
	l.provider.Close()
	if err := l.connect(ctx, false); err != nil {
		return err
	}
	l.tracker.RecordReconnect()
	return nil
}

// fatal ends the run on a storage error: flush what we can, report, and
// hand the original error back.
func (l *Loop) fatal(err error) error {
	l.log.WithError(err).Error("storage failure, stopping")
	if ferr := l.finish("storage failure"); ferr != nil {
		l.log.WithError(ferr).Warn("final flush failed")
	}
	return err
}

// finish writes the final statistics flush and the session summary, then
// releases the files and the port. Storage errors are returned; a port
// close error is only logged.
func (l *Loop) finish(cause string) error {
	snap := l.tracker.Snapshot()

	var firstErr error
	if err := l.target.FlushStats(snap); err != nil {
		firstErr = err
	}
	if err := l.target.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := l.provider.Close(); err != nil {
		l.log.WithError(err).Warn("port close failed")
	}

	l.logSummary(cause, snap)
	return firstErr
}

func (l *Loop) reportStatus() {
	snap := l.tracker.Snapshot()
	fields := logrus.Fields{
		"points":  snap.Frames,
		"rate_hz": fmt.Sprintf("%.1f", snap.Rate()),
		"errors":  fmt.Sprintf("%.1f%%", snap.ErrorRate()),
		"runtime": snap.Runtime().String(),
		"dir":     l.target.Dir,
	}
	if mb, err := l.target.FreeMB(); err == nil {
		fields["free_mb"] = mb
	}
	if latest := l.latestReadings(snap); latest != "" {
		fields["latest"] = latest
	}
	l.log.WithFields(fields).Info("status")
}

// latestReadings renders the most recent wind speed, direction and
// temperature, e.g. "S=4.82 m/s D=213.00 deg T=21.40 C".
func (l *Loop) latestReadings(snap stats.Snapshot) string {
	var parts []string
	for _, code := range []string{"S", "D", "T"} {
		f, ok := snap.Field(code)
		if !ok || f.Count == 0 {
			continue
		}
		p, known := l.validator.Param(code)
		if !known {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%.2f %s", code, f.Last, p.Unit))
	}
	return strings.Join(parts, " ")
}

func (l *Loop) logSummary(cause string, snap stats.Snapshot) {
	l.log.WithFields(logrus.Fields{
		"cause":      cause,
		"runtime":    snap.Runtime().String(),
		"points":     snap.Frames,
		"rows":       snap.Rows,
		"rate_hz":    fmt.Sprintf("%.1f", snap.Rate()),
		"error_rate": fmt.Sprintf("%.1f%%", snap.ErrorRate()),
		"reconnects": snap.Reconnects,
		"file":       l.target.DataPath,
	}).Info("session finished")

	for _, f := range snap.Fields {
		l.log.Infof("  %s: n=%d min=%.2f max=%.2f mean=%.2f std=%.2f errors=%d",
			f.Code, f.Count, f.Min, f.Max, f.Mean, f.StdDev, f.Errors)
	}
}
