package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/match"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
)

type Server struct {
	Geo       geo.Index
	Registry  *ride.Registry
	Matcher   *match.Engine
	Broadcast *broadcast.Broadcaster
	Kafka     *ingest.KafkaProducer
	Verifier  *auth.Verifier

	store  storage.RideStore
	logger *slog.Logger
	mux    *mux.Router
}

// WarmFromStore preloads the registry with rides from durable storage
// so active-ride and history queries survive a restart.
func (s *Server) WarmFromStore(ctx context.Context) error {
	rides, err := s.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	s.Registry.Restore(rides)
	return nil
}

// Close releases external connections; in-memory collaborators need no
// teardown.
func (s *Server) Close() {
	if s.Kafka != nil {
		_ = s.Kafka.Close()
	}
	if c, ok := s.Geo.(io.Closer); ok {
		_ = c.Close()
	}
	if c, ok := s.store.(io.Closer); ok {
		_ = c.Close()
	}
}

// NewServer wires the dispatch core from config with graceful
// fallbacks: no redis means the in-process position index, no postgres
// means the in-memory ride store, no kafka means no ingest pipeline.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var index geo.Index
	if cfg.RedisAddr != "" {
		index = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, logger)
	} else {
		index = geo.NewMemIndex()
	}

	var store storage.RideStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	bc := broadcast.New(cfg.BroadcastTimeout, logger)
	registry := ride.NewRegistry(store, bc, logger)
	if cfg.StripeEnabled {
		registry.Fares = payments.NewStripeFares("")
	}

	engine := &match.Engine{
		Index:           index,
		RadiusMeters:    cfg.MatchRadiusMeters,
		MaxRadiusMeters: cfg.MatchMaxRadiusMeters,
		DefaultSpeedMps: cfg.DefaultSpeedMps,
	}
	if cfg.OSRMEndpoint != "" {
		engine.ETAClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
		engine.ETACache = eta.NewCache(cfg.ETACacheTTL)
	}

	s := &Server{
		Geo:       index,
		Registry:  registry,
		Matcher:   engine,
		Broadcast: bc,
		Kafka:     kp,
		Verifier:  auth.NewVerifier(cfg.JWTSecret),
		store:     store,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/rides/request", s.handleRideRequest).Methods("POST")
	api.HandleFunc("/rides/active", s.handleActiveRide).Methods("GET")
	api.HandleFunc("/rides/history", s.handleRideHistory).Methods("GET")
	api.HandleFunc("/rides/{ride_id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/accept", s.requireDriver(s.handleAccept)).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/status", s.handleUpdateStatus).Methods("PATCH")

	api.HandleFunc("/location/update", s.requireDriver(s.handleLocationUpdate)).Methods("POST")
	api.HandleFunc("/location/nearby-drivers", s.handleNearbyDrivers).Methods("GET")
	api.HandleFunc("/location/driver/{driver_id}", s.handleDriverPosition).Methods("GET")

	ws := s.mux.PathPrefix("/ws").Subrouter()
	ws.Use(s.authMiddleware)
	ws.HandleFunc("", s.handleWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
