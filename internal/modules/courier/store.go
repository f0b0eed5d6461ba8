// README: Courier directory backed by PostgreSQL.
package courier

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courierdispatch/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const courierColumns = `id, online, verified, lat, lng, accuracy_m, located_at,
	active_jobs, max_jobs, performance_score, rating, on_time_rate, timeout_strikes, updated_at`

func (s *Store) Upsert(ctx context.Context, c *Courier) error {
	var lat, lng, acc *float64
	var at *time.Time
	if c.Location != nil {
		lat, lng = &c.Location.Point.Lat, &c.Location.Point.Lng
		acc = c.Location.AccuracyM
		at = &c.Location.RecordedAt
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO couriers (`+courierColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (id) DO UPDATE SET
			online = EXCLUDED.online,
			verified = EXCLUDED.verified,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			accuracy_m = EXCLUDED.accuracy_m,
			located_at = EXCLUDED.located_at,
			max_jobs = EXCLUDED.max_jobs,
			performance_score = EXCLUDED.performance_score,
			rating = EXCLUDED.rating,
			on_time_rate = EXCLUDED.on_time_rate,
			updated_at = NOW()`,
		string(c.ID), c.Online, c.Verified, lat, lng, acc, at,
		c.ActiveJobs, c.MaxJobs, c.PerformanceScore, c.Rating, c.OnTimeRate, c.TimeoutStrikes,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Courier, error) {
	row := s.db.QueryRow(ctx, `SELECT `+courierColumns+` FROM couriers WHERE id = $1`, string(id))
	c, err := scanCourier(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListAvailable returns online, verified couriers with free capacity and a known location.
func (s *Store) ListAvailable(ctx context.Context) ([]Courier, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+courierColumns+`
		FROM couriers
		WHERE online AND verified
		  AND active_jobs < max_jobs
		  AND lat IS NOT NULL AND lng IS NOT NULL
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Courier
	for rows.Next() {
		c, err := scanCourier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) SetOnline(ctx context.Context, id types.ID, online bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE couriers SET online = $2, updated_at = NOW() WHERE id = $1`, string(id), online)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateLocation(ctx context.Context, id types.ID, loc Location) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE couriers
		SET lat = $2, lng = $3, accuracy_m = $4, located_at = $5, updated_at = NOW()
		WHERE id = $1`,
		string(id), loc.Point.Lat, loc.Point.Lng, loc.AccuracyM, loc.RecordedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementActive consumes one unit of capacity. The conditional update makes the
// check-and-increment atomic per courier row.
func (s *Store) IncrementActive(ctx context.Context, id types.ID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE couriers
		SET active_jobs = active_jobs + 1, updated_at = NOW()
		WHERE id = $1 AND active_jobs < max_jobs`, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.missingOrFull(ctx, id)
}

func (s *Store) DecrementActive(ctx context.Context, id types.ID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE couriers
		SET active_jobs = GREATEST(active_jobs - 1, 0), updated_at = NOW()
		WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) AddTimeoutStrike(ctx context.Context, id types.ID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE couriers SET timeout_strikes = timeout_strikes + 1, updated_at = NOW()
		WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) missingOrFull(ctx context.Context, id types.ID) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM couriers WHERE id = $1)`, string(id)).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrCapacityExceeded
}

func scanCourier(row pgx.Row) (*Courier, error) {
	var c Courier
	var id string
	var lat, lng, acc *float64
	var at *time.Time
	err := row.Scan(
		&id, &c.Online, &c.Verified, &lat, &lng, &acc, &at,
		&c.ActiveJobs, &c.MaxJobs, &c.PerformanceScore, &c.Rating, &c.OnTimeRate, &c.TimeoutStrikes, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ID = types.ID(id)
	if lat != nil && lng != nil {
		loc := &Location{Point: types.Point{Lat: *lat, Lng: *lng}, AccuracyM: acc}
		if at != nil {
			loc.RecordedAt = *at
		}
		c.Location = loc
	}
	return &c, nil
}
