// Package rpc serves the local control API: status and history snapshots
// for operator tooling, plus approval, mode, policy, and hunter commands.
// The listener binds loopback only; the API carries no authentication and
// must never be exposed off-host.
package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/pintheon/pinner/config"
	"github.com/pintheon/pinner/pinner/db/iface"
	"github.com/pintheon/pinner/pinner/types"
)

var log = logrus.WithField("prefix", "rpc")

// Controller is the daemon surface the control API drives.
type Controller interface {
	Mode() config.Mode
	SetMode(ctx context.Context, mode config.Mode) error
	UpdatePolicy(ctx context.Context, minPrice, maxContentSize int64) error
	ApproveOffer(ctx context.Context, slotID uint64, verify func(ctx context.Context, slotID uint64) (bool, error)) error
	RejectOffer(ctx context.Context, slotID uint64) error
}

// Hunter is the verification surface exposed over the control API. Nil
// when the hunter is disabled.
type Hunter interface {
	RunCycleNow(ctx context.Context) (*types.CycleReport, error)
	VerifyNow(ctx context.Context, cid, pinnerAddress string) (*types.VerificationResult, error)
	FlagNow(ctx context.Context, pinnerAddress string) *types.FlagResult
}

// Config holds the control API parameters.
type Config struct {
	Host            string
	Port            int
	AllowedOrigins  []string
	OperatorAddress string
	Network         string

	// SlotExpired re-checks a slot on chain before approval releases an
	// offer into the pipeline.
	SlotExpired func(ctx context.Context, slotID uint64) (bool, error)
}

// Service is the control API HTTP server.
type Service struct {
	cfg        Config
	store      iface.Database
	controller Controller
	hunter     Hunter
	server     *http.Server
	startedAt  time.Time
	failStatus error
}

// NewService wires the control API routes.
func NewService(cfg Config, store iface.Database, controller Controller, hunter Hunter) *Service {
	s := &Service{
		cfg:        cfg,
		store:      store,
		controller: controller,
		hunter:     hunter,
	}

	router := mux.NewRouter()
	router.HandleFunc("/v1/status", s.statusHandler).Methods(http.MethodGet)
	router.HandleFunc("/v1/offers", s.offersHandler).Methods(http.MethodGet)
	router.HandleFunc("/v1/offers/queue", s.queueHandler).Methods(http.MethodGet)
	router.HandleFunc("/v1/offers/approve", s.approveHandler).Methods(http.MethodPost)
	router.HandleFunc("/v1/offers/reject", s.rejectHandler).Methods(http.MethodPost)
	router.HandleFunc("/v1/pins", s.pinsHandler).Methods(http.MethodGet)
	router.HandleFunc("/v1/earnings", s.earningsHandler).Methods(http.MethodGet)
	router.HandleFunc("/v1/activity", s.activityHandler).Methods(http.MethodGet)
	router.HandleFunc("/v1/mode", s.modeHandler).Methods(http.MethodPost)
	router.HandleFunc("/v1/policy", s.policyHandler).Methods(http.MethodPost)
	router.HandleFunc("/v1/hunter", s.hunterStateHandler).Methods(http.MethodGet)
	router.HandleFunc("/v1/hunter/cycle", s.hunterCycleHandler).Methods(http.MethodPost)
	router.HandleFunc("/v1/hunter/verify", s.hunterVerifyHandler).Methods(http.MethodPost)
	router.HandleFunc("/v1/hunter/flag", s.hunterFlagHandler).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: c.Handler(router),
	}
	return s
}

// Start begins serving the control API.
func (s *Service) Start() {
	s.startedAt = time.Now().UTC()
	log.WithField("endpoint", s.server.Addr).Info("Starting control API")
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Control API listener failed")
			s.failStatus = err
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Service) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status reports listener failures.
func (s *Service) Status() error {
	return s.failStatus
}
