package dashboard

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
	"github.com/efebarandurmaz/bugtracker/internal/depgraph"
	"github.com/efebarandurmaz/bugtracker/internal/fetch"
	"github.com/efebarandurmaz/bugtracker/internal/observability"
	"github.com/efebarandurmaz/bugtracker/internal/table"
)

//go:embed static
var staticFS embed.FS

const (
	defaultLogLimit = 100
	keepAlive       = 30 * time.Second
)

// Cycles starts and exposes fetch cycles. *fetch.Controller implements it.
type Cycles interface {
	Source
	Start(req fetch.Request) *fetch.Cycle
}

// Config holds dashboard server configuration.
type Config struct {
	ListenAddr string // e.g. ":9090"

	// Tag is the whiteboard project tag; empty selects table.DefaultTag.
	Tag string
	// BugURL and TreeURL link rows and the status line upstream.
	BugURL  func(id bug.ID) string
	TreeURL func(root string, maxDepth int) string

	// Health serves /healthz, /readyz and /livez when set.
	Health  http.Handler
	Metrics *observability.Metrics
	Audit   *observability.AuditLogger
	Logger  *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{ListenAddr: ":9090"}
}

// Server is the dashboard HTTP server.
type Server struct {
	config    *Config
	store     *Store
	hub       *Hub
	logger    *slog.Logger
	projector table.Projector
	router    *gin.Engine
	server    *http.Server
	stop      chan struct{}

	cycles Cycles
}

// NewServer creates a new dashboard server.
func NewServer(config *Config, store *Store, hub *Hub) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:    config,
		store:     store,
		hub:       hub,
		logger:    logger,
		projector: table.Projector{Tag: config.Tag, BugURL: config.BugURL},
		stop:      make(chan struct{}),
	}

	router := gin.New()
	router.Use(gin.Recovery(), corsMiddleware(), loggingMiddleware(logger))
	s.RegisterRoutes(router.Group("/api"))

	if config.Health != nil {
		health := gin.WrapH(config.Health)
		router.GET("/healthz", health)
		router.GET("/readyz", health)
		router.GET("/livez", health)
	}
	if config.Metrics != nil {
		router.GET("/metrics", gin.WrapH(config.Metrics.Handler()))
	}

	staticFiles, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(fmt.Sprintf("dashboard: static files: %v", err))
	}
	files := http.FileServer(http.FS(staticFiles))
	router.GET("/", gin.WrapH(files))
	router.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		files.ServeHTTP(c.Writer, c.Request)
	})

	s.router = router
	s.server = &http.Server{
		Addr:        config.ListenAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: /api/events streams for the life of the page.
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// RegisterRoutes mounts the JSON API and the event stream on rg.
func (s *Server) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/bugs", s.handleBugs)
	rg.GET("/graph", s.handleGraph)
	rg.GET("/graph.dot", s.handleGraphDOT)
	rg.GET("/graph.mmd", s.handleGraphMermaid)
	rg.GET("/status", s.handleStatus)
	rg.GET("/stats", s.handleStats)
	rg.GET("/health", s.handleHealth)
	rg.GET("/events", s.handleSSE)

	cycles := rg.Group("/cycles")
	cycles.POST("", s.handleStartCycle)
	cycles.GET("", s.handleCycles)
	cycles.GET("/:id", s.handleCycle)
	cycles.GET("/:id/logs", s.handleLogs)
}

// Attach connects the server to the controller it drives.
func (s *Server) Attach(cycles Cycles) {
	s.cycles = cycles
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving the dashboard.
func (s *Server) Start() error {
	s.logger.Info("Starting dashboard server", "addr", s.config.ListenAddr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server, ending open event streams first.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping dashboard server")
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) current() *fetch.Cycle {
	if s.cycles == nil {
		return nil
	}
	return s.cycles.Current()
}

// handleBugs handles GET /api/bugs
func (s *Server) handleBugs(c *gin.Context) {
	f := table.ParseFilter(c.Request.URL.Query())
	view := BugsView{
		Filter:  f,
		Columns: table.Columns(f.Flags),
		Rows:    []table.Row{},
	}

	cy := s.current()
	if cy == nil {
		c.JSON(http.StatusOK, view)
		return
	}

	// Flag columns need fields the cycle may not have requested.
	if f.Flags && !cy.Request().Flags {
		req := cy.Request()
		req.Flags = true
		cy = s.cycles.Start(req)
		view.Refetching = true
		s.logger.Info("restarting cycle with flag fields", "cycle", cy.ID(), "root", req.Root)
	}

	rows := table.Select(s.projector, s.projector.Rows(cy.Store().All()), f)
	view.CycleID = cy.ID()
	view.State = cy.Summary().State
	view.Rows = rows
	view.Total = len(rows)
	c.JSON(http.StatusOK, view)
}

func (s *Server) graph() (*depgraph.Graph, bool) {
	cy := s.current()
	if cy == nil {
		return nil, false
	}
	return depgraph.Analyze(cy.Summary().BlockedBy, cy.Store().All()), true
}

// handleGraph handles GET /api/graph
func (s *Server) handleGraph(c *gin.Context) {
	g, ok := s.graph()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cycle started"})
		return
	}
	c.JSON(http.StatusOK, g)
}

// handleGraphDOT handles GET /api/graph.dot
func (s *Server) handleGraphDOT(c *gin.Context) {
	g, ok := s.graph()
	if !ok {
		c.String(http.StatusNotFound, "no cycle started\n")
		return
	}
	c.Data(http.StatusOK, "text/vnd.graphviz; charset=utf-8", []byte(depgraph.ExportDOT(g)))
}

// handleGraphMermaid handles GET /api/graph.mmd
func (s *Server) handleGraphMermaid(c *gin.Context) {
	g, ok := s.graph()
	if !ok {
		c.String(http.StatusNotFound, "no cycle started\n")
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(depgraph.ExportMermaid(g)))
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(c *gin.Context) {
	msg, at := s.store.Status()
	view := StatusView{Message: msg, UpdatedAt: at}
	if cy := s.current(); cy != nil {
		sum := cy.Summary()
		view.Cycle = &sum
		if s.config.TreeURL != nil {
			view.TreeURL = s.config.TreeURL(sum.BlockedBy, sum.MaxDepth)
		}
	}
	c.JSON(http.StatusOK, view)
}

// handleStartCycle handles POST /api/cycles
func (s *Server) handleStartCycle(c *gin.Context) {
	if s.cycles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "controller not attached"})
		return
	}

	var body CycleRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}
	req := fetch.Request{Root: body.Root, MaxDepth: -1, ChunkSize: body.ChunkSize, Flags: body.Flags}
	if body.MaxDepth != nil {
		if *body.MaxDepth < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_depth must be >= 0"})
			return
		}
		req.MaxDepth = *body.MaxDepth
	}
	if body.ChunkSize < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chunk_size must be > 0"})
		return
	}

	cy := s.cycles.Start(req)
	norm := cy.Request()
	s.config.Audit.LogCycleRequest(c.ClientIP(), norm.Root, norm.MaxDepth, norm.Flags)
	c.JSON(http.StatusAccepted, newRun(cy.Summary()))
}

// handleCycles handles GET /api/cycles
func (s *Server) handleCycles(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.ListRuns())
}

// handleCycle handles GET /api/cycles/:id
func (s *Server) handleCycle(c *gin.Context) {
	run, ok := s.store.GetRun(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "cycle not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// handleLogs handles GET /api/cycles/:id/logs
func (s *Server) handleLogs(c *gin.Context) {
	limit := defaultLogLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	c.JSON(http.StatusOK, s.store.GetLogs(c.Param("id"), limit))
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(c *gin.Context) {
	stats := s.store.GetStats()
	if cy := s.current(); cy != nil {
		rows := table.Select(s.projector, s.projector.Rows(cy.Store().All()), table.ParseFilter(c.Request.URL.Query()))
		stats.Reporters = table.Reporters(rows)
	}
	c.JSON(http.StatusOK, stats)
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"time":        time.Now().Format(time.RFC3339),
		"sse_clients": s.hub.ClientCount(),
	})
}

// handleSSE handles GET /api/events (Server-Sent Events)
func (s *Server) handleSSE(c *gin.Context) {
	client, err := NewClient(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	var cycleID string
	if cy := s.current(); cy != nil {
		cycleID = cy.ID()
	}
	if data := encodeEvent(&Event{Type: EventConnected, Timestamp: time.Now(), CycleID: cycleID}); data != nil {
		client.send(data)
	}

	s.hub.Register(client)
	defer s.hub.Unregister(client)

	s.logger.Debug("SSE client connected", "remote", c.ClientIP())

	stop := make(chan struct{})
	go func() {
		select {
		case <-c.Request.Context().Done():
		case <-s.stop:
		}
		close(stop)
	}()
	client.Serve(stop, keepAlive)

	s.logger.Debug("SSE client disconnected", "remote", c.ClientIP(), "dropped", client.Dropped())
}

// corsMiddleware adds CORS headers for local development
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
