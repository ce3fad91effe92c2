// Package http exposes the analytics engine as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"finlens/internal/amqp"
	"finlens/internal/cache"
	"finlens/internal/log"
	"finlens/internal/middleware/ratelimit"
	"finlens/internal/middleware/security"
	"finlens/internal/middleware/trace"
	"finlens/internal/services"
)

// MaterializeRunner runs one rollup pass synchronously.
type MaterializeRunner interface {
	RunOnce(ctx context.Context, userID string) (services.MaterializeResult, error)
}

// MaterializePublisher queues a rollup pass for a worker process.
type MaterializePublisher interface {
	PublishMaterializeRequest(ctx context.Context, req *amqp.MaterializeRequest) error
}

// Services are the use cases the API serves. Publisher may be nil, in which
// case async materialization requests are refused.
type Services struct {
	Query       *services.QueryService
	Insights    *services.InsightService
	Categorizer *services.Categorizer
	Salary      *services.SalaryService
	Runner      MaterializeRunner
	Publisher   MaterializePublisher
}

type Options struct {
	QueryTimeout      time.Duration
	CacheSize         int
	CacheTTL          time.Duration
	RequestsPerMinute int
	Logger            *log.Logger
}

func (o Options) withDefaults() Options {
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 10 * time.Second
	}
	if o.RequestsPerMinute <= 0 {
		o.RequestsPerMinute = ratelimit.DefaultConfig().RequestsPerMinute
	}
	if o.Logger == nil {
		o.Logger = log.New(log.DefaultConfig())
	}
	return o
}

type Server struct {
	http.Server
	svc  Services
	opts Options

	heatmapCache   *cache.LRUCache[services.Heatmap]
	waterfallCache *cache.LRUCache[services.Waterfall]
	seriesCache    *cache.LRUCache[services.RollupSeries]
	caches         *cache.Manager

	limiter      *ratelimit.Limiter
	clientIP     func(*http.Request) string
	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, svc Services, opts Options) *Server {
	opts = opts.withDefaults()
	resolver, _ := security.NewClientIPResolver()

	s := &Server{
		svc:            svc,
		opts:           opts,
		heatmapCache:   cache.NewLRUCache[services.Heatmap](opts.CacheSize, opts.CacheTTL),
		waterfallCache: cache.NewLRUCache[services.Waterfall](opts.CacheSize, opts.CacheTTL),
		seriesCache:    cache.NewLRUCache[services.RollupSeries](opts.CacheSize, opts.CacheTTL),
		caches:         cache.NewManager(),
		limiter:        ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RequestsPerMinute}),
		clientIP:       resolver.ClientIP,
	}
	s.caches.Register(s.heatmapCache)
	s.caches.Register(s.waterfallCache)
	s.caches.Register(s.seriesCache)
	if opts.CacheTTL > 0 && opts.CacheSize > 0 {
		s.caches.StartCleanup(opts.CacheTTL)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /api/analytics/heatmap", s.handleHeatmap)
	mux.HandleFunc("GET /api/analytics/waterfall", s.handleWaterfall)
	mux.HandleFunc("GET /api/analytics/rollups", s.handleRollups)
	mux.HandleFunc("GET /api/kpi", s.handleKPI)
	mux.HandleFunc("GET /api/insights/monthly", s.handleMonthlyInsights)
	mux.HandleFunc("GET /api/insights/overview", s.handleOverview)
	mux.HandleFunc("GET /api/salary", s.handleGetSalary)
	mux.HandleFunc("GET /api/rules", s.handleListRules)

	// writes share a per-client budget
	limited := s.limiter.Middleware(s.clientIP, func(w http.ResponseWriter, r *http.Request) {
		NewJSONResponse().Status(http.StatusTooManyRequests).Message("Rate limit exceeded. Please try again later.").Write(w)
	})
	mux.Handle("POST /api/categorize", limited(http.HandlerFunc(s.handleCategorize)))
	mux.Handle("PUT /api/salary", limited(http.HandlerFunc(s.handlePutSalary)))
	mux.Handle("POST /api/rules", limited(http.HandlerFunc(s.handleCreateRule)))
	mux.Handle("DELETE /api/rules/{id}", limited(http.HandlerFunc(s.handleDeleteRule)))
	mux.Handle("POST /api/rollups/materialize", limited(http.HandlerFunc(s.handleMaterialize)))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	requestLog := log.RequestLogger(opts.Logger, trace.FromRequest, s.clientIP)
	s.Server = http.Server{
		Addr:              addr,
		Handler:           trace.Middleware(requestLog(headers.Middleware(mux))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      opts.QueryTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown stops background cache and limiter goroutines, then the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
	})
	return s.Server.Shutdown(ctx)
}

// queryContext bounds a handler's storage work by QUERY_TIMEOUT.
func (s *Server) queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.opts.QueryTimeout)
}

// invalidateRollups drops cached rollup series after a pass rewrote them.
// An empty userID drops every user's entries.
func (s *Server) invalidateRollups(userID string) int {
	prefix := "rollups|"
	if userID != "" {
		prefix = cacheKey("rollups", userID) + "|"
	}
	return s.seriesCache.DeletePrefix(prefix)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}
