// Package assistant answers a learner's query from their own material:
// classify, retrieve, pack, generate once, then record the evidence and
// audit the answer in parallel.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bull/sinhala-tutor-rag/internal/apperr"
	"github.com/bull/sinhala-tutor-rag/internal/contextpack"
	"github.com/bull/sinhala-tutor-rag/internal/embedding"
	"github.com/bull/sinhala-tutor-rag/internal/generation"
	"github.com/bull/sinhala-tutor-rag/internal/intent"
	"github.com/bull/sinhala-tutor-rag/internal/metrics"
	"github.com/bull/sinhala-tutor-rag/internal/recorder"
	"github.com/bull/sinhala-tutor-rag/internal/retrieval"
	"github.com/bull/sinhala-tutor-rag/internal/safety"
	"github.com/bull/sinhala-tutor-rag/internal/storage"
)

// generationFailed is stored on the assistant message when the model call fails.
const generationFailed = "generation failed"

// Request is one query.
type Request struct {
	// OwnerID, when set, must own every resource in Scope.
	OwnerID    uuid.UUID
	Scope      []uuid.UUID
	Query      string
	GradeLevel generation.GradeLevel
	IntentHint intent.Intent
}

// UsedSource credits one chunk of the answer's evidence.
type UsedSource struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	ResourceID uuid.UUID `json:"resource_id"`
	Rank       int       `json:"rank"`
	Score      *float64  `json:"score"`
}

// Response is the answer with its sources and safety summary.
type Response struct {
	UserMessageID      uuid.UUID      `json:"user_message_id"`
	AssistantMessageID uuid.UUID      `json:"assistant_message_id,omitempty"`
	Answer             string         `json:"answer"`
	UsedSources        []UsedSource   `json:"used_sources"`
	Safety             safety.Summary `json:"safety"`
	Intent             intent.Intent  `json:"intent"`
}

// Store is the persistence the service needs.
type Store interface {
	GetResources(ctx context.Context, ids []uuid.UUID) ([]*storage.Resource, error)
	storage.MessageLog
}

// Retriever produces ranked evidence.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.EvidenceHit, error)
}

// Deps are the collaborators of a Service. Embedder may be nil for
// lexical-only retrieval.
type Deps struct {
	Store     Store
	Embedder  embedding.Provider
	Router    *intent.Router
	Retriever Retriever
	Generator generation.Generator
	Recorder  *recorder.Recorder
	Auditor   *safety.Auditor
	Metrics   *metrics.Metrics
}

// Options tunes a Service.
type Options struct {
	Params          retrieval.Params
	Widening        intent.Widening
	MaxContextChars int
	EmbedTimeout    time.Duration
	LLMTimeout      time.Duration
}

// Service runs the query pipeline.
type Service struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

func New(deps Deps, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Router == nil {
		deps.Router = intent.NewRouter(nil, intent.DefaultThreshold, nil, logger)
	}
	if deps.Recorder == nil {
		deps.Recorder = recorder.New(deps.Store, logger)
	}
	if deps.Auditor == nil {
		deps.Auditor = safety.NewAuditor(safety.DefaultConfig(), deps.Store, logger)
	}
	return &Service{deps: deps, opts: opts, logger: logger}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Ask answers req. The user message is persisted before any other work and
// is kept even when a later stage fails. Generation runs at most once.
func (s *Service) Ask(ctx context.Context, req Request) (*Response, error) {
	const op = "assistant.Ask"
	start := time.Now()
	defer s.deps.Metrics.ObserveStage("ask", start)

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, &apperr.Error{Kind: apperr.KindInvalidInput, Op: op, Msg: "query must not be empty", Err: ErrEmptyQuery}
	}
	if !req.GradeLevel.Valid() {
		return nil, &apperr.Error{Kind: apperr.KindInvalidInput, Op: op, Msg: "unknown grade level", Err: ErrInvalidGrade}
	}
	if err := s.checkOwnership(ctx, req); err != nil {
		return nil, wrap(op, err)
	}

	class := s.deps.Router.Classify(ctx, query, req.IntentHint)
	profile := intent.ProfileFor(class.Intent, s.opts.Params, s.opts.Widening)

	userMsg := &storage.Message{
		OwnerID:    req.OwnerID,
		Content:    query,
		Scope:      req.Scope,
		Intent:     string(class.Intent),
		GradeLevel: string(req.GradeLevel),
	}
	if err := s.deps.Store.CreateUserMessage(ctx, userMsg); err != nil {
		return nil, wrap(op, fmt.Errorf("create user message: %w", err))
	}

	resp := &Response{
		UserMessageID: userMsg.ID,
		UsedSources:   []UsedSource{},
		Safety:        safety.EmptySummary(),
		Intent:        class.Intent,
	}

	// Nothing to ground on and nothing to chat about.
	if len(req.Scope) == 0 && !profile.SkipRetrieval {
		s.logger.Info("Empty scope, skipping retrieval", zap.String("message_id", userMsg.ID.String()))
		return resp, nil
	}

	hits := []retrieval.EvidenceHit{}
	if !profile.SkipRetrieval {
		var err error
		hits, err = s.retrieve(ctx, query, req.Scope, profile.Params)
		if err != nil {
			s.logger.Error("Retrieval failed", zap.String("message_id", userMsg.ID.String()), zap.Error(err))
			return nil, wrap(op, err)
		}
	}

	pack := contextpack.Build(hits, s.opts.MaxContextChars)
	env := generation.NewEnvelope(profile.Style, pack.Body, query, req.GradeLevel)

	genCtx, cancel := withTimeout(ctx, s.opts.LLMTimeout)
	genStart := time.Now()
	gen, genErr := s.deps.Generator.Generate(genCtx, env)
	cancel()
	s.deps.Metrics.ObserveStage("generate", genStart)

	if genErr != nil {
		s.deps.Metrics.GenerationFailed()
		s.logger.Error("Generation failed",
			zap.String("message_id", userMsg.ID.String()),
			zap.Error(genErr))
		s.recordFailedGeneration(ctx, userMsg, class.Intent, req.GradeLevel, pack.Hits)
		return nil, apperr.E(apperr.KindUpstreamUnavailable, op, genErr)
	}

	asstMsg := &storage.Message{
		OwnerID:          req.OwnerID,
		Content:          gen.Text,
		Scope:            req.Scope,
		Intent:           string(class.Intent),
		GradeLevel:       string(req.GradeLevel),
		Model:            gen.Model,
		PromptTokens:     int64(gen.PromptTokens),
		CompletionTokens: int64(gen.CompletionTokens),
		ReplyTo:          &userMsg.ID,
	}
	if err := s.deps.Store.CreateAssistantMessage(ctx, asstMsg); err != nil {
		return nil, wrap(op, fmt.Errorf("create assistant message: %w", err))
	}
	resp.AssistantMessageID = asstMsg.ID
	resp.Answer = gen.Text

	// The audit runs alongside the recorder; its report is persisted only
	// once the used chunks are recorded, so a failed request leaves no report.
	var (
		records []*storage.UsedChunkRecord
		report  *safety.Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = s.deps.Recorder.Record(gctx, asstMsg.ID, pack.Hits)
		return err
	})
	g.Go(func() error {
		report = s.deps.Auditor.Audit(gen.Text, pack.Text())
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, wrap(op, err)
	}
	if err := s.deps.Auditor.Store(ctx, asstMsg.ID, report); err != nil {
		return nil, wrap(op, err)
	}

	resp.UsedSources = usedSources(records)
	resp.Safety = report.Summary()
	s.deps.Metrics.Severity(report.Severity)

	s.logger.Info("Answered query",
		zap.String("message_id", asstMsg.ID.String()),
		zap.String("intent", string(class.Intent)),
		zap.String("intent_method", string(class.Method)),
		zap.Int("hits", len(hits)),
		zap.Int("used_chunks", pack.Metadata.UsedChunks),
		zap.String("severity", report.Severity),
		zap.Float64("confidence", report.Confidence),
		zap.Duration("duration", time.Since(start)))
	return resp, nil
}

func (s *Service) checkOwnership(ctx context.Context, req Request) error {
	if req.OwnerID == uuid.Nil || len(req.Scope) == 0 {
		return nil
	}
	resources, err := s.deps.Store.GetResources(ctx, req.Scope)
	if err != nil {
		return err
	}
	found := make(map[uuid.UUID]bool, len(resources))
	for _, r := range resources {
		if r.OwnerID != req.OwnerID {
			return fmt.Errorf("resource %s: %w", r.ID, ErrNotOwner)
		}
		found[r.ID] = true
	}
	for _, id := range req.Scope {
		if !found[id] {
			return fmt.Errorf("resource %s: %w", id, storage.ErrNotFound)
		}
	}
	return nil
}

// retrieve embeds the query and runs hybrid retrieval. An embedding outage
// degrades to lexical-only retrieval; a dimension mismatch does not.
func (s *Service) retrieve(ctx context.Context, query string, scope []uuid.UUID, params retrieval.Params) ([]retrieval.EvidenceHit, error) {
	q := retrieval.Query{Text: query, Scope: scope, Params: params}
	if s.deps.Embedder != nil {
		embedCtx, cancel := withTimeout(ctx, s.opts.EmbedTimeout)
		vec, err := embedding.EmbedOne(embedCtx, s.deps.Embedder, query)
		cancel()
		switch {
		case err == nil:
			if err := embedding.CheckDimension([][]float32{vec}, s.deps.Embedder.Dimension()); err != nil {
				return nil, err
			}
			q.Embedding = vec
			q.Model = s.deps.Embedder.ModelTag()
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			return nil, err
		default:
			s.logger.Warn("Query embedding failed, continuing lexical-only", zap.Error(err))
		}
	}
	return s.deps.Retriever.Retrieve(ctx, q)
}

// recordFailedGeneration stores an empty assistant message carrying the
// error and credits the hits that were packed for it. No safety report is
// written. Failures here are logged only; the caller already has an error.
func (s *Service) recordFailedGeneration(ctx context.Context, userMsg *storage.Message, in intent.Intent, grade generation.GradeLevel, hits []retrieval.EvidenceHit) {
	if ctx.Err() != nil {
		return
	}
	msg := &storage.Message{
		OwnerID:    userMsg.OwnerID,
		Scope:      userMsg.Scope,
		Intent:     string(in),
		GradeLevel: string(grade),
		ReplyTo:    &userMsg.ID,
		Error:      generationFailed,
	}
	if err := s.deps.Store.CreateAssistantMessage(ctx, msg); err != nil {
		s.logger.Warn("Failed to store failed assistant message", zap.Error(err))
		return
	}
	if _, err := s.deps.Recorder.Record(ctx, msg.ID, hits); err != nil {
		s.logger.Warn("Failed to record used chunks", zap.String("message_id", msg.ID.String()), zap.Error(err))
	}
}

func usedSources(records []*storage.UsedChunkRecord) []UsedSource {
	out := make([]UsedSource, 0, len(records))
	for _, r := range records {
		out = append(out, UsedSource{ChunkID: r.ChunkID, ResourceID: r.ResourceID, Rank: r.Rank, Score: r.Score})
	}
	return out
}

// SafetyReport returns the stored audit of an assistant message.
func (s *Service) SafetyReport(ctx context.Context, messageID uuid.UUID) (*safety.Report, error) {
	rec, err := s.deps.Store.GetSafetyReport(ctx, messageID)
	if err != nil {
		return nil, wrap("assistant.SafetyReport", err)
	}
	return safety.FromRecord(rec), nil
}

// Audit runs the grounding audit on arbitrary text without persisting it.
func (s *Service) Audit(answer, contextText string) *safety.Report {
	return s.deps.Auditor.Audit(answer, contextText)
}
