// Package http is the gin-based API boundary. Handlers translate between
// wire shapes and usecase calls; no ledger logic lives here.
package http

import (
	"context"
	"net/http"
	"time"

	"veriledger/internal/config"
	"veriledger/internal/domain"
	"veriledger/internal/infra/queue"
	"veriledger/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// DeadLetterQueue is the operational surface over the dead-letter stream.
type DeadLetterQueue interface {
	ListDead(ctx context.Context) ([]queue.DeadEntry, error)
	Reprocess(ctx context.Context, deadID string) (string, error)
	ReprocessAll(ctx context.Context) (int, error)
}

type Server struct {
	cfg config.Config
	r   *gin.Engine
	log zerolog.Logger

	ledger      *usecase.Ledger
	chain       *usecase.ChainBuilder
	coordinator *usecase.Coordinator
	aggregator  *usecase.Aggregator
	registry    *usecase.CredentialRegistry
	deadLetters DeadLetterQueue

	rateLimiter domain.RateLimiter
	metrics     http.Handler

	srv *http.Server
}

type ServerDeps struct {
	Ledger      *usecase.Ledger
	Chain       *usecase.ChainBuilder
	Coordinator *usecase.Coordinator
	Aggregator  *usecase.Aggregator
	Registry    *usecase.CredentialRegistry
	DeadLetters DeadLetterQueue
	RateLimiter domain.RateLimiter
	Metrics     http.Handler
	Log         zerolog.Logger
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:         cfg,
		r:           r,
		log:         deps.Log.With().Str("component", "http").Logger(),
		ledger:      deps.Ledger,
		chain:       deps.Chain,
		coordinator: deps.Coordinator,
		aggregator:  deps.Aggregator,
		registry:    deps.Registry,
		deadLetters: deps.DeadLetters,
		rateLimiter: deps.RateLimiter,
		metrics:     deps.Metrics,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil && s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.r.GET(path, gin.WrapH(s.metrics))
	}

	v1 := s.r.Group("/v1")
	{
		v1.POST("/events", s.handleSubmitEvent)
		v1.GET("/events", s.handleListEvents)
		v1.GET("/events/:id", s.handleGetEvent)
		v1.GET("/events/:id/proof", s.handleInclusionProof)

		v1.POST("/jobs", s.handleCreateJob)
		v1.POST("/jobs/requeue", s.handleRequeuePending)
		v1.POST("/jobs/:id/retry", s.handleRetryJob)

		v1.GET("/chain/verify", s.handleVerifyChain)
		v1.POST("/batches/:id/retry", s.handleRetryParkedBatch)

		v1.POST("/credentials", s.handleIssueCredential)
		v1.POST("/credentials/:id/revoke", s.handleRevokeCredential)
		v1.GET("/credentials/:id/proof", s.handleMembershipProof)
		v1.GET("/credentials/root", s.handleRegistryRoot)

		v1.GET("/queue/dead", s.handleListDead)
		v1.POST("/queue/dead/reprocess", s.handleReprocessAllDead)
		v1.POST("/queue/dead/:id/reprocess", s.handleReprocessDead)
	}
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) Run() error {
	s.srv = &http.Server{
		Addr:         s.cfg.Server.ListenAddr,
		Handler:      s.r,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	s.log.Info().Str("addr", s.cfg.Server.ListenAddr).Msg("http server listening")
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(timeout time.Duration) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
