// Package server exposes the agent over HTTP: a JSON API plus a
// websocket chat stream, with prometheus metrics on the same listener.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"archi/internal/agent"
	"archi/internal/budget"
	"archi/internal/dream"
	"archi/internal/goals"
	"archi/internal/logging"
	"archi/internal/monitor"
)

// Config holds the listener settings.
type Config struct {
	Host  string
	Port  int
	Debug bool
}

// Server is the HTTP surface over the running agent.
type Server struct {
	agent   *agent.Agent
	ledger  *budget.Ledger
	monitor *monitor.Monitor
	dreams  *dream.Cycle
	logger  logging.Logger

	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	startTime  time.Time

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func New(cfg Config, ag *agent.Agent, ledger *budget.Ledger, mon *monitor.Monitor, dreams *dream.Cycle, logger logging.Logger) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}

	s := &Server{
		agent:   ag,
		ledger:  ledger,
		monitor: mon,
		dreams:  dreams,
		logger:  logging.OrNop(logger),
		engine:  engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		startTime: time.Now(),
		conns:     map[*websocket.Conn]struct{}{},
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, cfg.Port),
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // chat responses can be slow
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/status", s.handleStatus)
	api.POST("/chat", s.handleChat)
	api.GET("/goals", s.handleListGoals)
	api.POST("/goals", s.handleCreateGoal)
	api.GET("/budget", s.handleBudget)
	api.GET("/actions", s.handleActions)
	api.POST("/memory", s.handleRemember)
	api.GET("/memory/search", s.handleRecall)

	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler exposes the route tree for embedding and tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.closeConns()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	sched := s.agent.Scheduler()
	status := gin.H{
		"mode":          string(sched.Mode()),
		"idle_seconds":  int(sched.IdleFor().Seconds()),
		"health":        s.monitor.Sample(),
		"dream_running": s.dreams.IsRunning(),
		"dream_history": s.dreams.History(),
	}
	c.JSON(http.StatusOK, status)
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message required"})
		return
	}
	res := s.agent.HandleMessage(c.Request.Context(), req.Message)
	code := http.StatusOK
	if res.Blocked {
		code = http.StatusPaymentRequired
	} else if !res.Success {
		code = http.StatusBadGateway
	}
	c.JSON(code, res)
}

func (s *Server) handleListGoals(c *gin.Context) {
	list := s.agent.Store().Goals()
	out := make([]gin.H, 0, len(list))
	for _, g := range list {
		out = append(out, goalView(g))
	}
	c.JSON(http.StatusOK, gin.H{"goals": out})
}

type createGoalRequest struct {
	Description string `json:"description" binding:"required"`
	UserIntent  string `json:"user_intent"`
	Priority    int    `json:"priority"`
}

func (s *Server) handleCreateGoal(c *gin.Context) {
	var req createGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "description required"})
		return
	}
	if req.Priority == 0 {
		req.Priority = 5
	}
	goal := s.agent.Store().CreateGoal(req.Description, req.UserIntent, req.Priority)
	c.JSON(http.StatusCreated, goalView(goal))
}

func goalView(g *goals.Goal) gin.H {
	return gin.H{
		"id":          g.ID,
		"description": g.Description,
		"priority":    g.Priority,
		"decomposed":  g.Decomposed,
		"complete":    g.IsComplete(),
		"progress":    g.CompletionPercent(),
		"tasks":       g.Tasks,
		"created_at":  g.CreatedAt,
	}
}

func (s *Server) handleBudget(c *gin.Context) {
	period := c.DefaultQuery("period", "today")
	c.JSON(http.StatusOK, s.ledger.GetSummary(period))
}

func (s *Server) handleActions(c *gin.Context) {
	n, err := strconv.Atoi(c.DefaultQuery("n", "50"))
	if err != nil || n <= 0 {
		n = 50
	}
	c.JSON(http.StatusOK, gin.H{"actions": s.agent.ActionTail(n)})
}

type rememberRequest struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) handleRemember(c *gin.Context) {
	var req rememberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content required"})
		return
	}
	id, err := s.agent.Remember(c.Request.Context(), req.Content)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) handleRecall(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q required"})
		return
	}
	topK, err := strconv.Atoi(c.DefaultQuery("k", "5"))
	if err != nil || topK <= 0 {
		topK = 5
	}
	hits, err := s.agent.Recall(c.Request.Context(), query, topK)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": hits})
}

// wsMessage is one inbound chat frame.
type wsMessage struct {
	Message string `json:"message"`
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed: %v", err)
		return
	}
	s.track(conn)
	defer s.untrack(conn)
	defer conn.Close()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Message == "" {
			continue
		}
		res := s.agent.HandleMessage(c.Request.Context(), msg.Message)
		if err := conn.WriteJSON(res); err != nil {
			return
		}
	}
}

func (s *Server) track(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = map[*websocket.Conn]struct{}{}
}
