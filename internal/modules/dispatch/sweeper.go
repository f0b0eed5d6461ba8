// README: Timeout sweeper; enforces accept and pending deadlines.
package dispatch

import (
	"context"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"courierdispatch/internal/types"
)

const implicitRejectReason = "accept window elapsed"

type SweepResult struct {
	Reassigned int
	TimedOut   int
	Matched    int
}

// SweepOnce settles every pending or assigned record whose deadline is at or before now.
// A silent courier is recorded as an implicit rejection of that record.
func (s *Service) SweepOnce(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	expired, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return res, err
	}
	for _, a := range expired {
		status, err := s.sweepRecord(ctx, a.ID, now)
		if err != nil {
			s.log.Error().Err(err).Str("assignment", string(a.ID)).Msg("sweep record failed")
			continue
		}
		switch status {
		case StatusTimeout:
			res.TimedOut++
		case StatusAssigned:
			if a.Status == StatusPending {
				res.Matched++
			} else {
				res.Reassigned++
			}
		}
	}
	s.metrics.Sweep()
	if len(expired) > 0 {
		s.log.Info().Int("expired", len(expired)).Int("reassigned", res.Reassigned).Int("matched", res.Matched).Int("timed_out", res.TimedOut).Msg("timeout sweep")
	}
	return res, nil
}

// sweepRecord returns the record's resulting status, or "" when it was no longer due.
func (s *Service) sweepRecord(ctx context.Context, id types.ID, now time.Time) (Status, error) {
	a, unlock, err := s.lockRecord(ctx, id)
	if err != nil {
		return "", err
	}
	defer unlock()

	if a.Status.Terminal() || a.Deadline.After(now) {
		return "", nil
	}

	if a.Status == StatusAssigned {
		silent := *a.CourierID
		a.Rejections = append(a.Rejections, Rejection{CourierID: silent, Reason: implicitRejectReason, At: now, Implicit: true})
		if err := s.advance(ctx, a, now); err != nil {
			return "", err
		}
		s.metrics.Rejection(true)
		if s.cfg.StrikeOnTimeout {
			if err := s.couriers.AddTimeoutStrike(ctx, silent); err != nil {
				s.log.Warn().Err(err).Str("courier", string(silent)).Msg("record timeout strike")
			}
		}
		s.track(a, "accept_timeout", implicitRejectReason)
		s.afterAdvance(ctx, a, now)
		return a.Status, nil
	}

	// pending: one last search before giving up
	if err := s.advance(ctx, a, now); err != nil {
		return "", err
	}
	s.afterAdvance(ctx, a, now)
	return a.Status, nil
}

// Sweeper runs SweepOnce on a jittered interval.
type Sweeper struct {
	svc      *Service
	interval time.Duration
}

func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, interval: interval}
}

func (w *Sweeper) Run(ctx context.Context) {
	ticker := jitterbug.New(w.interval, &jitterbug.Norm{Stdev: w.interval / 10, Mean: 0})
	defer ticker.Stop()
	w.svc.log.Info().Dur("interval", w.interval).Msg("timeout sweeper started")
	for {
		select {
		case <-ctx.Done():
			w.svc.log.Info().Msg("timeout sweeper stopped")
			return
		case <-ticker.C:
			if _, err := w.svc.SweepOnce(ctx, w.svc.now()); err != nil {
				w.svc.log.Error().Err(err).Msg("timeout sweep failed")
			}
		}
	}
}
