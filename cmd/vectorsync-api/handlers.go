// Package main HTTP handlers for the vectorsync API.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vectorsync-ai/vectorsync/internal/agent"
	"github.com/vectorsync-ai/vectorsync/internal/cache"
	"github.com/vectorsync-ai/vectorsync/internal/catalog"
	"github.com/vectorsync-ai/vectorsync/internal/config"
	"github.com/vectorsync-ai/vectorsync/internal/embedding"
	"github.com/vectorsync-ai/vectorsync/internal/llm"
	"github.com/vectorsync-ai/vectorsync/internal/observability"
	"github.com/vectorsync-ai/vectorsync/internal/registry"
	"github.com/vectorsync-ai/vectorsync/internal/secrets"
	"github.com/vectorsync-ai/vectorsync/internal/validator"
	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

// Handlers carries the shared dependencies of all API endpoints.
type Handlers struct {
	logger   *observability.Logger
	cfg      *config.Config
	db       *sql.DB
	vecRepo  *vectorizer.Repository
	registry *registry.Repository
	resolver secrets.Resolver
	embCache *cache.EmbeddingCache
}

// NewHandlers creates the handler set.
func NewHandlers(logger *observability.Logger, cfg *config.Config, db *sql.DB) *Handlers {
	var embCache *cache.EmbeddingCache
	switch cfg.Cache.Driver {
	case "redis":
		client, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, embedding cache disabled")
		} else {
			embCache = cache.NewEmbeddingCache(client, cfg.Cache.TTL)
		}
	default:
		embCache = cache.NewEmbeddingCache(cache.NewMemoryClient(cfg.Cache.MaxEntries), cfg.Cache.TTL)
	}

	return &Handlers{
		logger:   logger.WithComponent("api"),
		cfg:      cfg,
		db:       db,
		vecRepo:  vectorizer.NewRepository(db),
		registry: registry.NewRepository(db),
		resolver: secrets.NewDBResolver(db),
		embCache: embCache,
	}
}

// VectorizerStatusDTO is the status payload for one vectorizer.
type VectorizerStatusDTO struct {
	ID            int32  `json:"id"`
	Source        string `json:"source"`
	Target        string `json:"target"`
	Pending       int64  `json:"pending"`
	PendingCapped bool   `json:"pendingCapped"`
	SuccessCount  int64  `json:"successCount"`
	ErrorCount    int64  `json:"errorCount"`
	LastError     string `json:"lastError,omitempty"`
}

// ListVectorizers handles GET /api/v1/vectorizers.
func (h *Handlers) ListVectorizers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	list, err := h.vecRepo.List(ctx)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]VectorizerStatusDTO, 0, len(list))
	for _, v := range list {
		dto, err := h.statusFor(ctx, v)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, *dto)
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"vectorizers": out})
}

// VectorizerStatus handles GET /api/v1/vectorizers/{id}/status.
func (h *Handlers) VectorizerStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid vectorizer id"))
		return
	}

	v, err := h.vecRepo.Get(ctx, int32(id))
	if errors.Is(err, vectorizer.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	dto, err := h.statusFor(ctx, v)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dto)
}

func (h *Handlers) statusFor(ctx context.Context, v *vectorizer.Vectorizer) (*VectorizerStatusDTO, error) {
	pending, capped, err := h.registry.QueuePending(ctx, v, false)
	if err != nil {
		return nil, err
	}
	progress, err := h.registry.GetProgress(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	return &VectorizerStatusDTO{
		ID:            v.ID,
		Source:        v.SourceSchema + "." + v.SourceTable,
		Target:        v.TargetSchema + "." + v.TargetTable,
		Pending:       pending,
		PendingCapped: capped,
		SuccessCount:  progress.SuccessCount,
		ErrorCount:    progress.ErrorCount,
		LastError:     progress.LastErrorMessage,
	}, nil
}

// WorkerDTO is one worker process row.
type WorkerDTO struct {
	ID            string    `json:"id"`
	Version       string    `json:"version"`
	Started       time.Time `json:"started"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	Alive         bool      `json:"alive"`
	SuccessCount  int64     `json:"successCount"`
	ErrorCount    int64     `json:"errorCount"`
}

// ListWorkers handles GET /api/v1/workers.
func (h *Handlers) ListWorkers(w http.ResponseWriter, r *http.Request) {
	procs, err := h.registry.ListProcesses(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	now := time.Now()
	out := make([]WorkerDTO, 0, len(procs))
	for _, p := range procs {
		out = append(out, WorkerDTO{
			ID:            p.ID.String(),
			Version:       p.Version,
			Started:       p.Started,
			LastHeartbeat: p.LastHeartbeat,
			Alive:         p.Alive(now),
			SuccessCount:  p.SuccessCount,
			ErrorCount:    p.ErrorCount,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"workers": out})
}

// TextToSQLRequestDTO is the request body of POST /api/v1/text-to-sql.
type TextToSQLRequestDTO struct {
	Question            string   `json:"question"`
	IncludeEntireSchema bool     `json:"includeEntireSchema,omitempty"`
	OnlyTheseObjects    []string `json:"onlyTheseObjects,omitempty"`
	MaxIterations       int      `json:"maxIterations,omitempty"`
}

// TextToSQLResponseDTO is the response body of POST /api/v1/text-to-sql.
type TextToSQLResponseDTO struct {
	Answered    bool            `json:"answered"`
	SQL         string          `json:"sql,omitempty"`
	CommandType string          `json:"commandType,omitempty"`
	Iterations  int             `json:"iterations"`
	QueryPlan   json.RawMessage `json:"queryPlan,omitempty"`
	EstCost     float64         `json:"estCost,omitempty"`
	EstRows     float64         `json:"estRows,omitempty"`
}

// TextToSQL handles POST /api/v1/text-to-sql.
func (h *Handlers) TextToSQL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TextToSQLRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Question == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("question is required"))
		return
	}

	a, err := h.buildAgent(ctx, req)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	res, err := a.Run(ctx, req.Question)
	if err != nil {
		h.logger.Error().Err(err).Msg("text-to-sql failed")
		h.writeError(w, http.StatusBadGateway, err)
		return
	}

	h.writeJSON(w, http.StatusOK, TextToSQLResponseDTO{
		Answered:    res.SQLStatement != "",
		SQL:         res.SQLStatement,
		CommandType: res.CommandType,
		Iterations:  res.Iterations,
		QueryPlan:   res.QueryPlan,
		EstCost:     res.EstCost,
		EstRows:     res.EstRows,
	})
}

func (h *Handlers) buildAgent(ctx context.Context, req TextToSQLRequestDTO) (*agent.Agent, error) {
	embedder, err := h.buildEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	chat, err := h.buildChatProvider(ctx)
	if err != nil {
		return nil, err
	}

	acfg := agent.Config{
		MaxIterations:       h.cfg.Agent.MaxIterations,
		MaxResults:          h.cfg.Agent.MaxResults,
		MaxVectorDist:       h.cfg.Agent.MaxVectorDist,
		SearchPath:          h.cfg.Agent.SearchPath,
		IncludeEntireSchema: req.IncludeEntireSchema,
		OnlyTheseObjects:    req.OnlyTheseObjects,
	}
	if req.MaxIterations > 0 && req.MaxIterations < acfg.MaxIterations {
		acfg.MaxIterations = req.MaxIterations
	}

	return agent.New(
		catalog.NewRepository(h.db, embedder),
		embedder, h.embCache, chat,
		validator.New(h.db), acfg, h.logger,
	), nil
}

func (h *Handlers) buildEmbedder(ctx context.Context) (embedding.Provider, error) {
	ecfg := vectorizer.EmbeddingConfig{
		Implementation: h.cfg.Embedding.Provider,
		Model:          h.cfg.Embedding.Model,
		Dimensions:     h.cfg.Embedding.Dimensions,
	}

	var apiKey string
	var keyName string
	switch ecfg.Implementation {
	case vectorizer.EmbeddingOpenAI:
		keyName = "OPENAI_API_KEY"
	case vectorizer.EmbeddingVoyageAI:
		keyName = "VOYAGE_API_KEY"
	}
	if keyName != "" {
		key, err := h.resolver.Resolve(ctx, "", keyName, "")
		if err != nil {
			return nil, err
		}
		apiKey = key
	}

	return embedding.New(ecfg, apiKey, 2*time.Minute)
}

func (h *Handlers) buildChatProvider(ctx context.Context) (llm.ChatProvider, error) {
	var pcfg config.ProviderConfig
	switch h.cfg.Agent.Provider {
	case "openai":
		pcfg = h.cfg.Providers.OpenAI
	case "cohere":
		pcfg = h.cfg.Providers.Cohere
	case "ollama":
		pcfg = h.cfg.Providers.Ollama
	default:
		pcfg = h.cfg.Providers.Anthropic
	}

	apiKey := pcfg.APIKey
	if apiKey == "" && pcfg.APIKeyName != "" {
		key, err := h.resolver.Resolve(ctx, "", pcfg.APIKeyName, "")
		if err != nil {
			return nil, err
		}
		apiKey = key
	}

	return llm.New(h.cfg.Agent.Provider, h.cfg.Agent.Model, apiKey, pcfg)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("encode response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
