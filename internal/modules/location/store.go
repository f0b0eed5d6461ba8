// README: Location history backed by PostgreSQL.
package location

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"courierdispatch/internal/types"
)

// History is the append-only record of samples.
type History interface {
	Append(ctx context.Context, s Sample) error
	Recent(ctx context.Context, courierID types.ID, limit int) ([]Sample, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, smp Sample) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO courier_locations (courier_id, lat, lng, accuracy_m, speed_mps, heading_deg, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(smp.CourierID), smp.Point.Lat, smp.Point.Lng,
		smp.AccuracyM, smp.SpeedMps, smp.HeadingDeg, smp.RecordedAt,
	)
	return err
}

// Recent returns up to limit samples, newest first.
func (s *Store) Recent(ctx context.Context, courierID types.ID, limit int) ([]Sample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT lat, lng, accuracy_m, speed_mps, heading_deg, recorded_at
		FROM courier_locations
		WHERE courier_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2`, string(courierID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		smp := Sample{CourierID: courierID}
		if err := rows.Scan(&smp.Point.Lat, &smp.Point.Lng, &smp.AccuracyM, &smp.SpeedMps, &smp.HeadingDeg, &smp.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}
