package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Mr-Dark-debug/traviz/internal/trace"
)

// LoadFunc produces a trace. It should stop early when ctx is cancelled.
type LoadFunc func(ctx context.Context) (*trace.RawTrace, error)

// Ticket identifies one background load.
type Ticket struct {
	Seq    uint64
	Source string

	ctx    context.Context
	cancel context.CancelFunc
}

// Context is cancelled when the load is superseded or the session closes.
func (t *Ticket) Context() context.Context { return t.ctx }

// LoadResult is the outcome of running a ticket.
type LoadResult struct {
	Ticket  *Ticket
	Trace   *trace.RawTrace
	Err     error
	Elapsed time.Duration
}

// Run executes fn with the ticket's context. It is safe to call from any
// goroutine; hand the result to Session.Complete on the UI loop.
func (t *Ticket) Run(fn LoadFunc) LoadResult {
	start := time.Now()
	rt, err := fn(t.ctx)
	if err == nil && rt == nil {
		err = fmt.Errorf("loader returned no trace")
	}
	return LoadResult{Ticket: t, Trace: rt, Err: err, Elapsed: time.Since(start)}
}

// BeginLoad starts a new load, cancelling any pending one.
func (s *Session) BeginLoad(parent context.Context, source string) *Ticket {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if s.pending != nil {
		s.pending.cancel()
	}
	s.seq++
	t := &Ticket{Seq: s.seq, Source: source, ctx: ctx, cancel: cancel}
	s.pending = t
	s.mu.Unlock()

	s.logger.Info("load started", zap.Uint64("seq", t.Seq), zap.String("source", source))
	s.observer.LoadStarted(source)
	s.publish()
	return t
}

// Loading reports whether a load is pending.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// CancelLoad abandons the pending load, if any.
func (s *Session) CancelLoad() {
	s.mu.Lock()
	t := s.pending
	s.pending = nil
	s.mu.Unlock()
	if t != nil {
		t.cancel()
		s.logger.Info("load cancelled", zap.Uint64("seq", t.Seq))
		s.publish()
	}
}

// Complete installs the result of a load. A superseded ticket yields
// ErrStaleLoad and changes nothing. A failed load keeps the previous trace
// and returns the load error. On success the trace is swapped in and the
// interaction state, viewport and render cache are reset.
func (s *Session) Complete(res LoadResult) error {
	t := res.Ticket
	s.mu.Lock()
	current := s.pending == t && t != nil
	if current {
		s.pending = nil
	}
	s.mu.Unlock()

	if t == nil {
		return fmt.Errorf("completing load: %w", ErrStaleLoad)
	}
	t.cancel()
	if !current {
		s.logger.Debug("discarding stale load", zap.Uint64("seq", t.Seq), zap.String("source", t.Source))
		s.observer.LoadDiscarded(t.Source)
		return fmt.Errorf("load %d of %s: %w", t.Seq, t.Source, ErrStaleLoad)
	}
	defer s.publish()

	if res.Err != nil {
		s.logger.Error("load failed", zap.String("source", t.Source), zap.Error(res.Err))
		s.observer.LoadFinished(t.Source, 0, res.Elapsed, res.Err)
		return fmt.Errorf("loading %s: %w", t.Source, res.Err)
	}

	s.install(res.Trace, t.Source)
	s.logger.Info("trace loaded",
		zap.String("source", t.Source),
		zap.Int("spans", res.Trace.Len()),
		zap.Int("diagnostics", len(res.Trace.Diagnostics())),
		zap.Duration("elapsed", res.Elapsed))
	s.observer.LoadFinished(t.Source, res.Trace.Len(), res.Elapsed, nil)
	return nil
}

// Load runs fn synchronously through the ticket protocol.
func (s *Session) Load(ctx context.Context, source string, fn LoadFunc) error {
	t := s.BeginLoad(ctx, source)
	return s.Complete(t.Run(fn))
}

func (s *Session) install(rt *trace.RawTrace, source string) {
	s.rt = rt
	s.source = source
	s.generation++
	s.loadedAt = time.Now()
	s.ui.Reset()
	s.lastRows = nil
	s.relIndex = nil
	b := rt.Bounds()
	s.vp.Reset(b, s.initialWindow(b))
	if s.cache != nil {
		s.cache.Clear()
	}
}
