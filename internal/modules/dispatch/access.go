// README: Observer authorization for assignment streams and reads.
package dispatch

import (
	"context"
	"errors"

	"courierdispatch/internal/modules/order"
	"courierdispatch/internal/realtime"
	"courierdispatch/internal/types"
)

// CanObserve allows the job's customer, vendor, bound courier (offered or accepted) and admins.
func (s *Service) CanObserve(ctx context.Context, who realtime.Identity, jobID types.ID) (bool, error) {
	if who.IsAdmin() {
		return true, nil
	}
	orderID := jobID
	a, err := s.store.GetByJob(ctx, jobID)
	switch {
	case err == nil:
		if a.BoundTo(who.UserID) {
			return true, nil
		}
		orderID = a.Job.OrderID
	case !errors.Is(err, ErrNotFound):
		return false, err
	}

	o, err := s.orders.Get(ctx, orderID)
	if errors.Is(err, order.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if o.CustomerID == who.UserID || o.VendorID == who.UserID {
		return true, nil
	}
	return o.CourierID != nil && *o.CourierID == who.UserID, nil
}
