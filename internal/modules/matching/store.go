// README: Courier geo index backed by Redis GEO.
package matching

import (
	"context"

	"github.com/redis/go-redis/v9"

	"courierdispatch/internal/types"
)

// CourierGeoKey is the sorted set holding courier positions.
const CourierGeoKey = "matching:couriers"

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) SetCourier(ctx context.Context, id types.ID, p types.Point) error {
	return s.redis.GeoAdd(ctx, CourierGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (s *Store) RemoveCourier(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, CourierGeoKey, string(id)).Err()
}

// NearbyCouriers returns courier ids within radiusKm of p, nearest first.
func (s *Store) NearbyCouriers(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := s.redis.GeoSearch(ctx, CourierGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}
