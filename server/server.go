// Package server exposes the memory engine over HTTP. This is the
// request/response boundary the conversational client talks to; it holds no
// retrieval logic of its own.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/becomeliminal/engram/config"
	"github.com/becomeliminal/engram/memory"
)

// Server wires the engine and store into a gin router.
type Server struct {
	engine   *memory.Engine
	store    memory.FactStore
	search   config.Search
	backend  string
	provider string
	log      *logrus.Entry
	router   *gin.Engine
}

// New builds the HTTP server. search supplies the defaults applied when a
// request omits threshold or limit; backend and provider only feed the
// health endpoint.
func New(engine *memory.Engine, store memory.FactStore, search config.Search, backend, provider string, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		engine:   engine,
		store:    store,
		search:   search,
		backend:  backend,
		provider: provider,
		log:      log,
		router:   router,
	}

	router.GET("/health", s.health)
	mem := router.Group("/memory")
	{
		mem.POST("/save", s.save)
		mem.POST("/search", s.searchFacts)
		mem.GET("/list", s.list)
		mem.GET("/stats", s.stats)
		mem.GET("/export", s.export)
	}

	return s
}

// Handler returns the router for an http.Server (or httptest).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Request/response schemas. Fields are explicit and validated by binding:
// a malformed body is InvalidInput, deterministically, before any work.

type saveRequest struct {
	OwnerID string `json:"owner_id" binding:"required"`
	Text    string `json:"text" binding:"required"`
}

type saveResponse struct {
	ID string `json:"id"`
}

type searchRequest struct {
	OwnerID   string   `json:"owner_id" binding:"required"`
	Query     string   `json:"query" binding:"required"`
	Threshold *float64 `json:"threshold"`
	Limit     *int     `json:"limit"`
}

type searchResult struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
	CreatedAt string  `json:"created_at"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
	Total   int            `json:"total"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"backend":  s.backend,
		"embedder": s.provider,
	})
}

func (s *Server) save(c *gin.Context) {
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.invalidInput(c, err)
		return
	}

	id, err := s.engine.Save(c.Request.Context(), req.OwnerID, req.Text)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, saveResponse{ID: id})
}

func (s *Server) searchFacts(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.invalidInput(c, err)
		return
	}

	opts := memory.SearchOptions{
		Threshold: s.search.DefaultThreshold,
		Limit:     s.search.DefaultLimit,
	}
	if req.Threshold != nil {
		opts.Threshold = *req.Threshold
	}
	if req.Limit != nil {
		opts.Limit = *req.Limit
	}

	scored, err := s.engine.Search(c.Request.Context(), req.OwnerID, req.Query, opts)
	if err != nil {
		s.fail(c, err)
		return
	}

	// An empty result is success: "nothing remembered", not an error.
	resp := searchResponse{Results: make([]searchResult, 0, len(scored)), Total: len(scored)}
	for _, r := range scored {
		resp.Results = append(resp.Results, searchResult{
			ID:        r.Fact.ID,
			Text:      r.Fact.Text,
			Score:     r.Score,
			CreatedAt: r.Fact.CreatedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, resp)
}

type listedFact struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) list(c *gin.Context) {
	ownerID := c.Query("owner_id")
	if ownerID == "" {
		s.invalidInput(c, fmt.Errorf("owner_id is required"))
		return
	}
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 20)
	if page < 1 || limit < 1 || limit > 100 {
		s.invalidInput(c, fmt.Errorf("page must be >= 1 and limit in [1, 100]"))
		return
	}

	facts, err := s.store.Scan(c.Request.Context(), ownerID)
	if err != nil {
		s.fail(c, err)
		return
	}

	// Newest first for listing; scan order is oldest first.
	for i, j := 0, len(facts)-1; i < j; i, j = i+1, j-1 {
		facts[i], facts[j] = facts[j], facts[i]
	}

	total := len(facts)
	totalPages := (total + limit - 1) / limit
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	out := make([]listedFact, 0, end-start)
	for _, f := range facts[start:end] {
		out = append(out, listedFact{
			ID:        f.ID,
			Text:      f.Text,
			CreatedAt: f.CreatedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"facts":       out,
		"page":        page,
		"total_pages": totalPages,
		"total_items": total,
	})
}

func (s *Server) stats(c *gin.Context) {
	provider, ok := s.store.(memory.StatsProvider)
	if !ok {
		c.JSON(http.StatusNotImplemented, errorResponse{Error: errorBody{
			Kind:    "StorageFailure",
			Message: "store backend does not report stats",
		}})
		return
	}

	stats, err := provider.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) export(c *gin.Context) {
	ownerID := c.Query("owner_id")
	if ownerID == "" {
		s.invalidInput(c, fmt.Errorf("owner_id is required"))
		return
	}
	format := c.DefaultQuery("format", "json")

	facts, err := s.store.Scan(c.Request.Context(), ownerID)
	if err != nil {
		s.fail(c, err)
		return
	}

	switch format {
	case "json":
		out := make([]listedFact, 0, len(facts))
		for _, f := range facts {
			out = append(out, listedFact{
				ID:        f.ID,
				Text:      f.Text,
				CreatedAt: f.CreatedAt.Format(time.RFC3339),
			})
		}
		c.JSON(http.StatusOK, gin.H{"owner_id": ownerID, "facts": out})

	case "markdown":
		var b strings.Builder
		fmt.Fprintf(&b, "# Memory export: %s\n\n", ownerID)
		for _, f := range facts {
			fmt.Fprintf(&b, "- [%s] %s\n", f.CreatedAt.Format(time.RFC3339), f.Text)
		}
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(b.String()))

	default:
		s.invalidInput(c, fmt.Errorf("format must be json or markdown"))
	}
}

// invalidInput reports a request that failed validation before reaching the
// engine.
func (s *Server) invalidInput(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: errorBody{
		Kind:    "InvalidInput",
		Message: err.Error(),
	}})
}

// fail maps engine error kinds onto status codes. A failed save surfaces as
// an error response, never a silent success: the client must be able to
// tell the user the fact may not have been saved.
func (s *Server) fail(c *gin.Context, err error) {
	var status int
	var kind string

	switch {
	case errors.Is(err, memory.ErrInvalidInput):
		status, kind = http.StatusBadRequest, "InvalidInput"
	case errors.Is(err, memory.ErrEmbedding):
		status, kind = http.StatusBadGateway, "EmbeddingFailure"
	case errors.Is(err, memory.ErrStorage):
		status, kind = http.StatusInternalServerError, "StorageFailure"
	default:
		status, kind = http.StatusInternalServerError, "Internal"
	}

	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}

	c.JSON(status, errorResponse{Error: errorBody{Kind: kind, Message: err.Error()}})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1 // fails the range check in the handler
	}
	return n
}
