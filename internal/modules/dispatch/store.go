// README: Assignment persistence contract and its PostgreSQL implementation.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"courierdispatch/internal/types"
)

// Store persists assignment records. Update is an optimistic write: it succeeds only when
// a.Version matches the stored version, and bumps a.Version on success.
type Store interface {
	Create(ctx context.Context, a *Assignment) error
	Get(ctx context.Context, id types.ID) (*Assignment, error)
	// GetByJob returns the most recent record for the job.
	GetByJob(ctx context.Context, jobID types.ID) (*Assignment, error)
	Update(ctx context.Context, a *Assignment) error
	ListUnmatched(ctx context.Context) ([]*Assignment, error)
	ListExpired(ctx context.Context, now time.Time) ([]*Assignment, error)
	ListAssignedToCourier(ctx context.Context, courierID types.ID) ([]*Assignment, error)
	ListActiveByCourier(ctx context.Context, courierID types.ID) ([]*Assignment, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const assignmentColumns = `
	id, job_id, order_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
	priority, value_amount, value_currency, max_distance_km,
	courier_id, status, attempts, rejections,
	assigned_at, accepted_at, picked_up_at, completed_at,
	deadline, version, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, a *Assignment) error {
	rej, err := json.Marshal(nonNil(a.Rejections))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO assignments (`+assignmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23)`,
		string(a.ID), string(a.Job.ID), string(a.Job.OrderID),
		a.Job.Pickup.Lat, a.Job.Pickup.Lng, a.Job.Dropoff.Lat, a.Job.Dropoff.Lng,
		a.Job.Priority, a.Job.EstimatedValue.Amount, a.Job.EstimatedValue.Currency, a.Job.MaxDistanceKm,
		idPtr(a.CourierID), string(a.Status), a.Attempts, rej,
		a.AssignedAt, a.AcceptedAt, a.PickedUpAt, a.CompletedAt,
		a.Deadline, a.Version, a.CreatedAt, a.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errDuplicateLive
	}
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Assignment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, string(id))
	return scanAssignment(row)
}

func (s *PGStore) GetByJob(ctx context.Context, jobID types.ID) (*Assignment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE job_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, string(jobID))
	return scanAssignment(row)
}

func (s *PGStore) Update(ctx context.Context, a *Assignment) error {
	rej, err := json.Marshal(nonNil(a.Rejections))
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE assignments SET
			courier_id = $3, status = $4, attempts = $5, rejections = $6,
			assigned_at = $7, accepted_at = $8, picked_up_at = $9, completed_at = $10,
			deadline = $11, updated_at = $12, version = version + 1
		WHERE id = $1 AND version = $2`,
		string(a.ID), a.Version,
		idPtr(a.CourierID), string(a.Status), a.Attempts, rej,
		a.AssignedAt, a.AcceptedAt, a.PickedUpAt, a.CompletedAt,
		a.Deadline, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errDuplicateLive
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, a.ID); err != nil {
			return err
		}
		return ErrConflict
	}
	a.Version++
	return nil
}

func (s *PGStore) ListUnmatched(ctx context.Context) ([]*Assignment, error) {
	return s.list(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE status = 'pending' AND courier_id IS NULL
		ORDER BY priority DESC, created_at ASC`)
}

func (s *PGStore) ListExpired(ctx context.Context, now time.Time) ([]*Assignment, error) {
	return s.list(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE status IN ('pending', 'assigned') AND deadline <= $1
		ORDER BY deadline ASC`, now)
}

func (s *PGStore) ListAssignedToCourier(ctx context.Context, courierID types.ID) ([]*Assignment, error) {
	return s.list(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE status = 'assigned' AND courier_id = $1
		ORDER BY priority DESC, assigned_at ASC, id ASC`, string(courierID))
}

func (s *PGStore) ListActiveByCourier(ctx context.Context, courierID types.ID) ([]*Assignment, error) {
	return s.list(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE courier_id = $1
		  AND (status = 'assigned' OR (status = 'accepted' AND completed_at IS NULL))
		ORDER BY priority DESC, assigned_at ASC, id ASC`, string(courierID))
}

func (s *PGStore) list(ctx context.Context, query string, args ...any) ([]*Assignment, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssignment(row pgx.Row) (*Assignment, error) {
	var (
		a         Assignment
		id, jobID string
		orderID   string
		courierID *string
		status    string
		rej       []byte
	)
	err := row.Scan(
		&id, &jobID, &orderID,
		&a.Job.Pickup.Lat, &a.Job.Pickup.Lng, &a.Job.Dropoff.Lat, &a.Job.Dropoff.Lng,
		&a.Job.Priority, &a.Job.EstimatedValue.Amount, &a.Job.EstimatedValue.Currency, &a.Job.MaxDistanceKm,
		&courierID, &status, &a.Attempts, &rej,
		&a.AssignedAt, &a.AcceptedAt, &a.PickedUpAt, &a.CompletedAt,
		&a.Deadline, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.ID = types.ID(id)
	a.Job.ID = types.ID(jobID)
	a.Job.OrderID = types.ID(orderID)
	a.Status = Status(status)
	if courierID != nil {
		cid := types.ID(*courierID)
		a.CourierID = &cid
	}
	if err := json.Unmarshal(rej, &a.Rejections); err != nil {
		return nil, fmt.Errorf("decode rejections of %s: %w", id, err)
	}
	return &a, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func nonNil(r []Rejection) []Rejection {
	if r == nil {
		return []Rejection{}
	}
	return r
}
