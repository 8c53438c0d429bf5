// Package api exposes the resource fabric over HTTP (spec.md §6's second
// external interface): POST /compile, POST /format, GET /health,
// GET /metrics, POST /cache/clear. Compile/format requests are bounded by
// a fixed-size worker pool draining a job queue, grounded in the retrieved
// octree-compile service's requestQueue/worker shape.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/gogotex/texfabric/internal/cachefabric"
	"github.com/gogotex/texfabric/internal/fabric"
	"github.com/gogotex/texfabric/internal/orchestrator"
	"github.com/gogotex/texfabric/pkg/logger"
	"github.com/gogotex/texfabric/pkg/metrics"
	"github.com/gogotex/texfabric/pkg/middleware"
)

const (
	enqueueTimeout = 10 * time.Second
)

// compileJob is one queued compile or format-generation request, with a
// result channel the worker uses to hand the outcome back to the blocked
// HTTP handler goroutine.
type compileJob struct {
	kind       jobKind
	requestID  string
	projectID  string
	source     string
	engine     string
	opts       orchestrator.Options
	enqueuedAt time.Time
	result     chan jobResult
}

type jobKind int

const (
	jobCompile jobKind = iota
	jobFormat
)

type jobResult struct {
	compile orchestrator.Result
	fmtBlob []byte
	err     error
}

// Server wires the fabric's Library API behind gin, a bounded worker pool,
// and the teacher's auth/rate-limit middleware.
type Server struct {
	engine   *gin.Engine
	fab      *fabric.Fabric
	queue    chan *compileJob
	projects *projectCache
}

// Options configures the HTTP surface: how many workers drain the compile
// queue, the optional OIDC verifier guarding admin endpoints, and the rate
// limiter applied to every route.
type Options struct {
	Workers         int
	QueueMultiplier int // queue capacity = Workers * QueueMultiplier
	Verifier        middleware.Verifier
	RateLimit       RateLimitOptions
}

type RateLimitOptions struct {
	Enabled  bool
	RPS      float64
	Burst    int
	UseRedis bool
	Redis    *redis.Client
	Window   time.Duration
}

// NewServer builds the gin engine, starts the worker pool, and registers
// every route. Call Run to start serving.
func NewServer(fab *fabric.Fabric, opts Options) *Server {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueMultiplier <= 0 {
		opts.QueueMultiplier = 2
	}

	s := &Server{
		fab:      fab,
		queue:    make(chan *compileJob, opts.Workers*opts.QueueMultiplier),
		projects: newProjectCache(),
	}
	for i := 0; i < opts.Workers; i++ {
		go s.worker(i)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(corsMiddleware())

	if opts.RateLimit.Enabled {
		if opts.RateLimit.UseRedis && opts.RateLimit.Redis != nil {
			r.Use(middleware.RedisRateLimitMiddleware(opts.RateLimit.Redis, opts.RateLimit.RPS, opts.RateLimit.Burst, opts.RateLimit.Window))
		} else {
			r.Use(middleware.RateLimitMiddleware(opts.RateLimit.RPS, opts.RateLimit.Burst))
		}
	}

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "healthy") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/compile", s.handleCompile)
	r.POST("/format", s.handleFormat)

	admin := r.Group("/")
	if opts.Verifier != nil {
		admin.Use(middleware.AuthMiddleware(opts.Verifier))
	}
	admin.POST("/cache/clear", s.handleClearCache)

	s.engine = r
	return s
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Run starts the HTTP server, blocking until it exits.
func (s *Server) Run(addr string) error {
	logger.Infof("api: listening on %s", addr)
	return s.engine.Run(addr)
}

type compileRequestBody struct {
	Source    string `json:"source"`
	Engine    string `json:"engine"`
	UseCache  *bool  `json:"use_cache"`
	ProjectID string `json:"project_id"`
}

// handleCompile serves POST /compile. When ProjectID is set, concurrent
// compiles of the same project are serialized (projectCache.LockProject)
// and a resubmission with unchanged source/engine short-circuits to the
// last cached PDF without re-entering the compile queue at all.
func (s *Server) handleCompile(c *gin.Context) {
	var body compileRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "message": err.Error()})
		return
	}
	useCache := true
	if body.UseCache != nil {
		useCache = *body.UseCache
	}

	s.projects.LockProject(body.ProjectID)
	defer s.projects.UnlockProject(body.ProjectID)

	hash := contentHash(body.Source, body.Engine)
	if pdf, sha, ok := s.projects.lookup(body.ProjectID, hash); ok {
		c.Header("X-Compile-Sha256", sha)
		c.Header("X-Compile-Cache", "project")
		c.Header("Content-Disposition", `attachment; filename="document.pdf"`)
		c.Data(http.StatusOK, "application/pdf", pdf)
		return
	}

	requestID := uuid.NewString()
	job := &compileJob{
		kind:       jobCompile,
		requestID:  requestID,
		projectID:  body.ProjectID,
		source:     body.Source,
		engine:     body.Engine,
		opts:       orchestrator.Options{Engine: body.Engine, UseCache: useCache},
		enqueuedAt: time.Now(),
		result:     make(chan jobResult, 1),
	}
	s.submit(c, job, func(res jobResult) {
		s.recordCompileHistory(job, res)
		if res.err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "compile failed", "message": res.err.Error()})
			return
		}
		c.Header("X-Compile-Retries", fmt.Sprintf("%d", res.compile.Retries))
		if !res.compile.Success {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"success":   false,
				"exit_code": res.compile.ExitCode,
				"log":       res.compile.Log,
			})
			return
		}
		s.projects.store(body.ProjectID, hash, res.compile.PDF, res.compile.PDFHashHex)
		c.Header("X-Compile-Sha256", res.compile.PDFHashHex)
		c.Header("Content-Disposition", `attachment; filename="document.pdf"`)
		c.Data(http.StatusOK, "application/pdf", res.compile.PDF)
	})
}

// recordCompileHistory persists a cachefabric.Record for the attempt,
// grounded in the retrieved octree-compile example's persistMetadata.
func (s *Server) recordCompileHistory(job *compileJob, res jobResult) {
	completedAt := time.Now()
	rec := cachefabric.Record{
		RequestID:   job.requestID,
		Kind:        "compile",
		Engine:      job.engine,
		EnqueuedAt:  job.enqueuedAt,
		CompletedAt: completedAt,
		DurationMs:  completedAt.Sub(job.enqueuedAt).Milliseconds(),
	}
	if res.err != nil {
		rec.Status = "error"
		rec.Error = res.err.Error()
	} else if !res.compile.Success {
		rec.Status = "failed"
		rec.ExitCode = res.compile.ExitCode
		rec.Retries = res.compile.Retries
		rec.LogTail = res.compile.Log
	} else {
		rec.Status = "success"
		rec.ExitCode = res.compile.ExitCode
		rec.Retries = res.compile.Retries
		rec.PDFSize = len(res.compile.PDF)
		rec.SHA256 = res.compile.PDFHashHex
	}
	s.fab.History().Write(rec)
}

type formatRequestBody struct {
	Source string `json:"source"`
	Engine string `json:"engine"`
}

func (s *Server) handleFormat(c *gin.Context) {
	var body formatRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "message": err.Error()})
		return
	}

	job := &compileJob{
		kind:       jobFormat,
		requestID:  uuid.NewString(),
		source:     body.Source,
		engine:     body.Engine,
		enqueuedAt: time.Now(),
		result:     make(chan jobResult, 1),
	}
	s.submit(c, job, func(res jobResult) {
		completedAt := time.Now()
		rec := cachefabric.Record{
			RequestID:   job.requestID,
			Kind:        "format",
			Engine:      job.engine,
			EnqueuedAt:  job.enqueuedAt,
			CompletedAt: completedAt,
			DurationMs:  completedAt.Sub(job.enqueuedAt).Milliseconds(),
		}
		if res.err != nil {
			rec.Status = "error"
			rec.Error = res.err.Error()
			s.fab.History().Write(rec)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "format generation failed", "message": res.err.Error()})
			return
		}
		rec.Status = "success"
		rec.PDFSize = len(res.fmtBlob)
		s.fab.History().Write(rec)
		c.Data(http.StatusOK, "application/octet-stream", res.fmtBlob)
	})
}

// submit enqueues job and then blocks until a worker has produced its
// result. enqueueTimeout bounds only the wait for queue space: if it
// elapses first, the handler responds 503 and the job is not run. This
// mirrors the teacher's queue-full/timeout handling for the compile endpoint.
func (s *Server) submit(c *gin.Context, job *compileJob, onResult func(jobResult)) {
	select {
	case s.queue <- job:
		onResult(<-job.result)
	case <-time.After(enqueueTimeout):
		metrics.CompileQueueDepth.Set(float64(len(s.queue)))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "server busy",
			"message": "could not enqueue request before timeout",
		})
	}
}

func (s *Server) handleClearCache(c *gin.Context) {
	if err := s.fab.ClearCache(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache clear failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) worker(id int) {
	logger.Infof("api: worker %d started", id)
	for job := range s.queue {
		metrics.CompileQueueDepth.Set(float64(len(s.queue)))
		s.handleJob(job)
	}
}

func (s *Server) handleJob(job *compileJob) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			job.result <- jobResult{err: fmt.Errorf("api: worker panic: %v", r)}
		}
	}()

	switch job.kind {
	case jobFormat:
		blob, err := s.fab.GenerateFormat(ctx, job.source, job.engine)
		job.result <- jobResult{fmtBlob: blob, err: err}
	default:
		result, err := s.fab.Compile(ctx, job.source, job.opts)
		job.result <- jobResult{compile: result, err: ignoreOutcomeError(err)}
	}
}

// ignoreOutcomeError drops the typed NoProgressError/CapExceededError
// fabric.Compile wraps around a success=false Result, since the handler
// already renders that state from the Result itself; anything else (an
// actual invoke failure) is preserved.
func ignoreOutcomeError(err error) error {
	switch err.(type) {
	case *fabric.NoProgressError, *fabric.CapExceededError:
		return nil
	default:
		return err
	}
}
