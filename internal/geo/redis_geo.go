package geo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisGeo implements Index on top of Redis GEO commands, for fleets
// past the MemIndex scan ceiling. Positions live in a geo set keyed by
// driver ID; the update timestamp sits in a companion hash so stale
// upserts can be discarded. The read-then-write staleness check is not
// atomic across processes, which is acceptable because each driver's
// updates originate from a single device stream.
type RedisGeo struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

func NewRedisGeo(addr, password, key string, logger *slog.Logger) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, logger: logger}
}

func (r *RedisGeo) Upsert(p models.DriverPosition) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if prev, err := r.client.HGet(ctx, metaKey(p.DriverID), "updated").Result(); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, prev); err == nil && ts.After(p.UpdatedAt) {
			return false, nil
		}
	}
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: p.Lng, Latitude: p.Lat, Name: p.DriverID,
	}).Err(); err != nil {
		return false, fmt.Errorf("geoadd %s: %w", p.DriverID, err)
	}
	if err := r.client.HSet(ctx, metaKey(p.DriverID),
		"updated", p.UpdatedAt.Format(time.RFC3339Nano)).Err(); err != nil {
		return false, fmt.Errorf("position meta %s: %w", p.DriverID, err)
	}
	return true, nil
}

func (r *RedisGeo) Query(lat, lng, radiusMeters float64) []Candidate {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		r.logger.Error("redis geosearch failed", "error", err)
		return nil
	}
	out := make([]Candidate, 0, len(res))
	for _, g := range res {
		out = append(out, Candidate{
			DriverID:       g.Name,
			Lat:            g.Latitude,
			Lng:            g.Longitude,
			DistanceMeters: g.Dist,
		})
	}
	return out
}

func (r *RedisGeo) Position(driverID string) (models.DriverPosition, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pos, err := r.client.GeoPos(ctx, r.key, driverID).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return models.DriverPosition{}, false
	}
	p := models.DriverPosition{DriverID: driverID, Lat: pos[0].Latitude, Lng: pos[0].Longitude}
	if v, err := r.client.HGet(ctx, metaKey(driverID), "updated").Result(); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			p.UpdatedAt = ts
		}
	}
	return p, true
}

func (r *RedisGeo) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:meta:" + id }
