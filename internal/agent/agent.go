// Package agent implements the text-to-SQL loop: embed the question, pull
// semantic catalog context, converse with a tool-calling model, and gate any
// proposed statement through the plan validator before accepting it.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vectorsync-ai/vectorsync/internal/cache"
	"github.com/vectorsync-ai/vectorsync/internal/catalog"
	"github.com/vectorsync-ai/vectorsync/internal/embedding"
	"github.com/vectorsync-ai/vectorsync/internal/llm"
	"github.com/vectorsync-ai/vectorsync/internal/observability"
	"github.com/vectorsync-ai/vectorsync/internal/validator"
)

// DefaultMaxIterations bounds the loop when config leaves it unset.
const DefaultMaxIterations = 10

// DefaultMaxResults is the per-question retrieval width.
const DefaultMaxResults = 5

// Config tunes one agent instance.
type Config struct {
	MaxIterations int
	MaxResults    int
	// MaxVectorDist drops retrieval hits farther than this cosine
	// distance; zero disables the cutoff.
	MaxVectorDist float64
	SearchPath    string
	// IncludeEntireSchema puts every top-level catalog object in context,
	// skipping retrieval.
	IncludeEntireSchema bool
	// OnlyTheseObjects restricts context to the named top-level objects
	// (schema-qualified, "schema.name").
	OnlyTheseObjects []string
}

// Result is the outcome of one agent invocation. SQLStatement is empty when
// the iteration budget was exhausted without a valid answer.
type Result struct {
	SQLStatement        string
	CommandType         string
	RelevantObjects     []*catalog.Object
	RelevantSQLExamples []*catalog.SQLExample
	Iterations          int
	QueryPlan           json.RawMessage
	EstCost             float64
	EstRows             float64
}

// Validator gates candidate statements. Satisfied by *validator.Validator.
type Validator interface {
	Validate(ctx context.Context, sqlText, searchPath string) (*validator.Result, error)
}

// Agent runs the text-to-SQL loop.
type Agent struct {
	repo      *catalog.Repository
	embedder  embedding.Provider
	embCache  *cache.EmbeddingCache
	chat      llm.ChatProvider
	validator Validator
	cfg       Config
	logger    *observability.Logger
}

// New creates an agent. embCache may be nil to skip embedding memoization.
func New(repo *catalog.Repository, embedder embedding.Provider, embCache *cache.EmbeddingCache,
	chat llm.ChatProvider, v Validator, cfg Config, logger *observability.Logger) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	return &Agent{
		repo:      repo,
		embedder:  embedder,
		embCache:  embCache,
		chat:      chat,
		validator: v,
		cfg:       cfg,
		logger:    logger.WithComponent("agent"),
	}
}

// Run answers one question. It returns a zero-SQLStatement result, not an
// error, when the loop exhausts its iterations.
func (a *Agent) Run(ctx context.Context, question string) (*Result, error) {
	questions := []string{question}
	ctxObj := make(map[int64]*catalog.Object)
	ctxSQL := make(map[int64]*catalog.SQLExample)
	promptErr := ""

	for iter := 1; iter <= a.cfg.MaxIterations; iter++ {
		vectors, err := a.embedQuestions(ctx, questions)
		if err != nil {
			return nil, err
		}
		questions = nil

		if err := a.retrieve(ctx, vectors, ctxObj, ctxSQL); err != nil {
			return nil, err
		}

		prompt := renderPrompt(question, ctxObj, ctxSQL, promptErr)
		req := &llm.Request{
			System:     systemPrompt,
			Messages:   []llm.Message{{Role: llm.RoleUser, Content: prompt}},
			Tools:      agentTools(),
			ToolChoice: llm.ToolChoiceRequired,
		}
		if iter == a.cfg.MaxIterations {
			req.ToolChoice = llm.ToolChoiceForced
			req.ForcedTool = ToolAnswerWithSQL
		}

		resp, err := a.chat.Chat(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("chat call: %w", err)
		}
		a.logger.Debug().
			Int("iteration", iter).
			Int("tool_calls", len(resp.ToolCalls)).
			Str("stop_reason", resp.StopReason).
			Msg("model responded")

		for _, tc := range resp.ToolCalls {
			switch tc.Name {
			case ToolRequestMoreContext:
				var in moreContextInput
				if err := json.Unmarshal(tc.Input, &in); err != nil {
					return nil, fmt.Errorf("parse context tool call: %w", err)
				}
				if in.Question != "" {
					questions = append(questions, in.Question)
				}

			case ToolAnswerWithSQL:
				res, invalid, err := a.handleAnswer(ctx, tc.Input, ctxObj, ctxSQL, iter)
				if err != nil {
					return nil, err
				}
				if invalid != "" {
					promptErr = invalid
					continue
				}
				return res, nil

			default:
				return nil, fmt.Errorf("model called unknown tool %q", tc.Name)
			}
		}
	}

	a.logger.Warn().Int("iterations", a.cfg.MaxIterations).Msg("agent exhausted iterations")
	return &Result{Iterations: a.cfg.MaxIterations}, nil
}

// handleAnswer processes an answer tool call. It returns either a final
// result or, when validation fails, the feedback block for the next prompt.
func (a *Agent) handleAnswer(ctx context.Context, input json.RawMessage,
	ctxObj map[int64]*catalog.Object, ctxSQL map[int64]*catalog.SQLExample, iter int) (*Result, string, error) {

	var in answerInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, "", fmt.Errorf("parse answer tool call: %w", err)
	}

	res := &Result{
		SQLStatement: in.SQLStatement,
		CommandType:  in.CommandType,
		Iterations:   iter,
	}
	for _, id := range in.RelevantDatabaseObjectIDs {
		if o, ok := ctxObj[id]; ok {
			res.RelevantObjects = append(res.RelevantObjects, o)
		}
	}
	for _, id := range in.RelevantSQLExampleIDs {
		if ex, ok := ctxSQL[id]; ok {
			res.RelevantSQLExamples = append(res.RelevantSQLExamples, ex)
		}
	}

	// Narrow the accumulated context to what the model marked relevant, so a
	// validation retry prompts from the narrowed set.
	narrowContext(ctxObj, in.RelevantDatabaseObjectIDs)
	narrowContext(ctxSQL, in.RelevantSQLExampleIDs)

	if !validator.Explainable(in.CommandType) {
		return res, "", nil
	}

	vres, err := a.validator.Validate(ctx, in.SQLStatement, a.cfg.SearchPath)
	if err != nil {
		return nil, "", err
	}
	if !vres.Valid {
		a.logger.Debug().Str("error", vres.Error).Msg("model produced invalid sql")
		return nil, renderInvalidSQL(in.SQLStatement, vres.Error), nil
	}

	res.QueryPlan = vres.QueryPlan
	res.EstCost = vres.EstCost
	res.EstRows = vres.EstRows
	return res, "", nil
}

// narrowContext drops every entry the model did not mark relevant.
func narrowContext[T any](m map[int64]T, keep []int64) {
	kept := make(map[int64]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	for id := range m {
		if !kept[id] {
			delete(m, id)
		}
	}
}

// embedQuestions produces vectors for the pending questions, consulting the
// cache first.
func (a *Agent) embedQuestions(ctx context.Context, questions []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(questions))
	var misses []string
	var missIdx []int

	for _, q := range questions {
		if a.embCache != nil {
			vec, err := a.embCache.Get(ctx, a.embedder.Model(), q)
			if err == nil && vec != nil {
				vectors = append(vectors, vec)
				continue
			}
		}
		missIdx = append(missIdx, len(vectors))
		vectors = append(vectors, nil)
		misses = append(misses, q)
	}

	if len(misses) > 0 {
		results, err := a.embedder.Embed(ctx, misses)
		if err != nil {
			return nil, fmt.Errorf("embed questions: %w", err)
		}
		for i, r := range results {
			if r.Err != nil {
				return nil, fmt.Errorf("embed question: %w", r.Err)
			}
			vectors[missIdx[i]] = r.Vector
			if a.embCache != nil {
				if err := a.embCache.Put(ctx, a.embedder.Model(), misses[i], r.Vector); err != nil {
					a.logger.Warn().Err(err).Msg("embedding cache write failed")
				}
			}
		}
	}
	return vectors, nil
}

// retrieve merges this iteration's context into the accumulated maps,
// honoring the three retrieval modes in priority order.
func (a *Agent) retrieve(ctx context.Context, vectors [][]float32,
	ctxObj map[int64]*catalog.Object, ctxSQL map[int64]*catalog.SQLExample) error {

	switch {
	case a.cfg.IncludeEntireSchema:
		objs, err := a.repo.ListTopLevelObjects(ctx)
		if err != nil {
			return err
		}
		for _, o := range objs {
			ctxObj[o.ID] = o
		}

	case len(a.cfg.OnlyTheseObjects) > 0:
		objs, err := a.repo.ListTopLevelObjects(ctx)
		if err != nil {
			return err
		}
		wanted := make(map[string]bool, len(a.cfg.OnlyTheseObjects))
		for _, name := range a.cfg.OnlyTheseObjects {
			wanted[name] = true
		}
		for _, o := range objs {
			if wanted[qualifiedName(o)] {
				ctxObj[o.ID] = o
			}
		}

	default:
		for _, vec := range vectors {
			objs, err := a.repo.SearchObjects(ctx, vec, a.cfg.MaxResults, a.cfg.MaxVectorDist)
			if err != nil {
				return err
			}
			for _, o := range objs {
				ctxObj[o.ID] = o
			}
			sqls, err := a.repo.SearchSQL(ctx, vec, a.cfg.MaxResults, a.cfg.MaxVectorDist)
			if err != nil {
				return err
			}
			for _, ex := range sqls {
				ctxSQL[ex.ID] = ex
			}
		}
	}
	return nil
}

func qualifiedName(o *catalog.Object) string {
	if len(o.ObjNames) >= 2 {
		return o.ObjNames[0] + "." + o.ObjNames[1]
	}
	if len(o.ObjNames) == 1 {
		return o.ObjNames[0]
	}
	return ""
}
