package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"futures-llm-trader/internal/bot"
	"futures-llm-trader/internal/store"
)

// Server is the read-only dashboard: session status, the latest decisions
// and positions over REST, and cycle summaries pushed over a websocket.
// It never mutates trading state.
type Server struct {
	bot   *bot.Bot
	store *store.Store
	log   zerolog.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	httpServer *http.Server
}

// New builds the server and subscribes it to cycle completions.
func New(b *bot.Bot, st *store.Store, log zerolog.Logger) *Server {
	s := &Server{
		bot:   b,
		store: st,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
	b.OnCycle(s.broadcast)
	return s
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	api := router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/decisions", s.handleDecisions)
		api.GET("/positions", s.handlePositions)
		api.GET("/history", s.handleHistory)
	}
	router.GET("/ws", s.handleWebsocket)

	s.httpServer = &http.Server{Addr: addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("dashboard listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeClients()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.bot.Status())
}

func (s *Server) handleDecisions(c *gin.Context) {
	type decisionView struct {
		Symbol        string  `json:"symbol"`
		Action        string  `json:"action"`
		Confidence    float64 `json:"confidence"`
		RiskScore     float64 `json:"riskScore"`
		FundingImpact string  `json:"fundingImpact"`
		Executed      bool    `json:"executed"`
		SkipReason    string  `json:"skipReason,omitempty"`
		Reason        string  `json:"reason,omitempty"`
	}
	decisions := s.bot.Decisions()
	out := make([]decisionView, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, decisionView{
			Symbol:        d.Symbol,
			Action:        string(d.Action),
			Confidence:    d.Confidence,
			RiskScore:     d.RiskScore,
			FundingImpact: d.FundingImpact,
			Executed:      d.ShouldExecute,
			SkipReason:    d.SkipReason,
			Reason:        d.Reason,
		})
	}
	c.JSON(http.StatusOK, gin.H{"decisions": out})
}

func (s *Server) handlePositions(c *gin.Context) {
	snap := s.bot.Snapshot()
	if snap == nil {
		c.JSON(http.StatusOK, gin.H{"positions": []interface{}{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"takenAt":   snap.TakenAt,
		"account":   snap.Account,
		"positions": snap.Positions,
		"partial":   snap.Partial,
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	rows, err := s.store.RecentDecisions(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rows == nil {
		rows = []store.DecisionRow{}
	}
	c.JSON(http.StatusOK, gin.H{"decisions": rows})
}

func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	// Reader loop exists only to notice the close.
	go func() {
		defer s.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) broadcast(summary bot.CycleSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(summary); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn.Close()
	delete(s.clients, conn)
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.Close()
	}
	s.clients = make(map[*websocket.Conn]bool)
}
