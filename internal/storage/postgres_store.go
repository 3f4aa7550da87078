package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Save(ctx context.Context, r *models.Ride) error {
	route, err := json.Marshal(r.Route)
	if err != nil {
		return fmt.Errorf("encode route: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO rides(
			id, rider_id, driver_id,
			pickup_lat, pickup_lng, pickup_address,
			dest_lat, dest_lng, dest_address,
			price, status, route, created_at, updated_at
		) VALUES($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.ID, r.RiderID, r.DriverID,
		r.Pickup.Lat, r.Pickup.Lng, r.Pickup.Address,
		r.Destination.Lat, r.Destination.Lng, r.Destination.Address,
		r.Price, string(r.Status), route, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) Update(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE rides SET driver_id=NULLIF($1,''), status=$2, updated_at=$3 WHERE id=$4`,
		r.DriverID, string(r.Status), r.UpdatedAt, r.ID)
	return err
}

func (p *PostgresStore) LoadAll(ctx context.Context) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, rider_id, COALESCE(driver_id, ''),
			pickup_lat, pickup_lng, pickup_address,
			dest_lat, dest_lng, dest_address,
			price, status, route, created_at, updated_at
		FROM rides`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Ride
	for rows.Next() {
		var r models.Ride
		var status string
		var route []byte
		if err := rows.Scan(&r.ID, &r.RiderID, &r.DriverID,
			&r.Pickup.Lat, &r.Pickup.Lng, &r.Pickup.Address,
			&r.Destination.Lat, &r.Destination.Lng, &r.Destination.Address,
			&r.Price, &status, &route, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Status = models.RideStatus(status)
		if len(route) > 0 {
			if err := json.Unmarshal(route, &r.Route); err != nil {
				return nil, fmt.Errorf("decode route for ride %s: %w", r.ID, err)
			}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error { return p.db.Close() }
