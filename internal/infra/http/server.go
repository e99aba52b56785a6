package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"credledger/internal/config"
	"credledger/internal/domain"
	"credledger/internal/usecase"

	"github.com/gin-gonic/gin"
)

type Server struct {
	cfg    config.Config
	r      *gin.Engine
	logger *slog.Logger

	ledger    *usecase.Ledger
	snapshots usecase.SnapshotStore
	journal   usecase.BlockJournal

	// writeMu orders mutations with their persistence.
	writeMu sync.Mutex

	adminAPIKey string

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

type ServerDeps struct {
	Ledger *usecase.Ledger
	// Snapshots receives the full ledger state after every mutation.
	Snapshots usecase.SnapshotStore
	// Journal receives every finalized block.
	Journal     usecase.BlockJournal
	RateLimiter domain.RateLimiter
	Logger      *slog.Logger
}

func NewServer(cfg config.Config, deps ServerDeps) (*Server, error) {
	if deps.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), metricsMiddleware())

	s := &Server{
		cfg:         cfg,
		r:           r,
		logger:      logger,
		ledger:      deps.Ledger,
		snapshots:   deps.Snapshots,
		journal:     deps.Journal,
		adminAPIKey: cfg.AdminAPIKey,
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s, nil
}

func (s *Server) initRateLimit(limiter domain.RateLimiter) {
	s.rateLimiter = limiter
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = time.Minute
	if s.cfg.RateLimitWindowSeconds > 0 {
		s.rateLimitWindow = s.cfg.RateLimitWindow()
	}
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		storage := "memory"
		if s.snapshots != nil {
			storage = s.cfg.StorageBackend
		}
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"storage":      storage,
			"chain_length": s.ledger.ChainLength(),
		})
	})
	s.r.GET("/metrics", metricsHandler())

	v1 := s.r.Group("/v1")
	{
		v1.GET("/issuers", s.handleListIssuers)
		v1.GET("/subjects", s.handleListSubjects)
		v1.GET("/credentials", s.handleListCredentials)
		v1.GET("/credentials/:uuid/status", s.handleCredentialStatus)
		v1.GET("/blocks/pending", s.handlePendingBlock)
		v1.GET("/chain", s.handleChain)
		v1.GET("/chain/validate", s.handleValidateChain)

		v1.POST("/issuers", s.handleRegisterIssuer)
		v1.POST("/subjects", s.handleRegisterSubject)
		v1.POST("/credentials", s.handleIssueCredential)
		v1.POST("/credentials/:uuid/revoke", s.handleRevokeCredential)
		v1.POST("/blocks", s.handleOpenBlock)
		v1.POST("/blocks/pending/issuances", s.handleStageIssuance)
		v1.POST("/blocks/pending/revocations", s.handleStageRevocation)
		v1.POST("/blocks/pending/finalize", s.handleFinalizeBlock)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

// persist saves a snapshot of the ledger and journals block when one was
// finalized. Callers hold writeMu.
func (s *Server) persist(ctx context.Context, block *domain.Block) error {
	if block != nil && s.journal != nil {
		height := s.ledger.ChainLength() - 1
		if err := s.journal.AppendBlock(ctx, height, *block); err != nil {
			return err
		}
	}
	if s.snapshots == nil {
		return nil
	}
	snap, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return err
	}
	return s.snapshots.Save(ctx, snap)
}

func (s *Server) Handler() http.Handler {
	return s.r
}
