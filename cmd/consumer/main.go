package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
)

// The consumer drains the driver-locations topic into the shared Redis
// geo index, so every API replica queries the same driver positions.

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver position messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	positionsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_positions_applied_total",
		Help: "Position updates written to the geo index",
	})
	positionsStale = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_positions_stale_total",
		Help: "Position updates discarded as out of order",
	})
	sinkErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_sink_errors_total",
		Help: "Geo index write failures after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, positionsApplied, positionsStale, sinkErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	logger := logging.NewLogger(os.Getenv("LOG_LEVEL"))

	brokers := []string{"localhost:9092"}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(v, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	topic := envOr("KAFKA_TOPIC", "driver-locations")
	group := envOr("KAFKA_GROUP", "ride-dispatch-consumer")
	redisAddr := envOr("REDIS_ADDR", "localhost:6379")
	geoKey := envOr("REDIS_GEO_KEY", "drivers_geo")

	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
	sink := &redisSink{c: rc, key: geoKey}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", topic, "brokers", brokers, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Error("kafka read error", "error", err, "backoff", backoff.String())
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var p models.DriverPosition
		if err := json.Unmarshal(m.Value, &p); err != nil || p.DriverID == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "error", err)
			continue
		}

		applied, err := applyWithRetry(ctx, sink, p, 3, 200*time.Millisecond)
		if err != nil {
			sinkErrors.Inc()
			logger.Error("geo index update failed", "driver_id", p.DriverID, "error", err)
			continue
		}
		if applied {
			positionsApplied.Inc()
		} else {
			positionsStale.Inc()
		}
	}
}

// positionSink is the slice of the geo index the consumer needs;
// small so tests can fake failures.
type positionSink interface {
	// Apply writes the position; applied=false means it was stale.
	Apply(ctx context.Context, p models.DriverPosition) (applied bool, err error)
}

type redisSink struct {
	c   *redis.Client
	key string
}

func (r *redisSink) Apply(ctx context.Context, p models.DriverPosition) (bool, error) {
	metaKey := "driver:meta:" + p.DriverID
	if prev, err := r.c.HGet(ctx, metaKey, "updated").Result(); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, prev); err == nil && ts.After(p.UpdatedAt) {
			return false, nil
		}
	}
	if err := r.c.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: p.Lng, Latitude: p.Lat, Name: p.DriverID,
	}).Err(); err != nil {
		return false, err
	}
	if err := r.c.HSet(ctx, metaKey, "updated", p.UpdatedAt.Format(time.RFC3339Nano)).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// applyWithRetry retries transient sink failures with exponential
// backoff; a stale verdict is final and never retried.
func applyWithRetry(ctx context.Context, sink positionSink, p models.DriverPosition, attempts int, delay time.Duration) (bool, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		applied, err := sink.Apply(ctx, p)
		if err == nil {
			return applied, nil
		}
		lastErr = err
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return false, lastErr
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
