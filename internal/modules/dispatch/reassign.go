// README: Reassignment trigger; a courier location sample can unblock pending jobs.
package dispatch

import (
	"context"
	"errors"

	"courierdispatch/internal/modules/matching"
	"courierdispatch/internal/types"
)

// OnCourierLocation re-runs candidate selection for every pending job whose pickup is within
// reach of courierID at p. Selection considers every eligible courier, not only courierID.
// The directory must already hold the new location. It returns how many jobs got a courier.
func (s *Service) OnCourierLocation(ctx context.Context, courierID types.ID, p types.Point) (int, error) {
	pending, err := s.store.ListUnmatched(ctx)
	if err != nil {
		return 0, err
	}
	assigned := 0
	for _, a := range pending {
		if a.HasRejected(courierID) {
			continue
		}
		if matching.Haversine(p, a.Job.Pickup) > a.Job.MaxDistanceKm {
			continue
		}
		ok, err := s.retryPending(ctx, a.ID)
		if err != nil {
			s.log.Error().Err(err).Str("assignment", string(a.ID)).Str("courier", string(courierID)).Msg("reassignment failed")
			continue
		}
		if ok {
			assigned++
		}
	}
	return assigned, nil
}

// retryPending offers a still-unmatched pending record to the best current candidate.
func (s *Service) retryPending(ctx context.Context, id types.ID) (bool, error) {
	a, unlock, err := s.lockRecord(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	if a.Status != StatusPending || a.CourierID != nil {
		return false, nil
	}
	cands, err := s.candidates(ctx, a)
	if err != nil || len(cands) == 0 {
		return false, err
	}
	now := s.now()
	if err := s.offer(a, cands[0].CourierID, now); err != nil {
		return false, err
	}
	if err := s.store.Update(ctx, a); err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil
		}
		return false, err
	}
	s.metrics.Assignment(string(a.Status))
	s.log.Info().Str("assignment", string(a.ID)).Str("job", string(a.Job.ID)).Str("courier", string(*a.CourierID)).Msg("pending assignment matched")
	s.track(a, "assigned", "")
	s.offerToCourier(a)
	return true, nil
}
