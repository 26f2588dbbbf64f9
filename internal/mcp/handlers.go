package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/bull/sinhala-tutor-rag/internal/apperr"
	"github.com/bull/sinhala-tutor-rag/internal/assistant"
	"github.com/bull/sinhala-tutor-rag/internal/extract"
	"github.com/bull/sinhala-tutor-rag/internal/generation"
	"github.com/bull/sinhala-tutor-rag/internal/indexer"
	"github.com/bull/sinhala-tutor-rag/internal/intent"
	"github.com/bull/sinhala-tutor-rag/internal/metrics"
	"github.com/bull/sinhala-tutor-rag/internal/storage"
)

type handler[In, Out any] func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, Out, error)

// instrument counts every call of tool and rewrites failures into their
// public kind and message so internal causes stay in the log.
func instrument[In, Out any](tool string, m *metrics.Metrics, logger *zap.Logger, h handler[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		res, out, err := h(ctx, req, in)
		if err != nil {
			m.ToolCall(tool, "error")
			pub := apperr.ToPublic(err)
			logger.Warn("Tool call failed",
				zap.String("tool", tool),
				zap.String("kind", string(pub.Kind)),
				zap.Error(err))
			var zero Out
			return nil, zero, fmt.Errorf("%s: %s", pub.Kind, pub.Message)
		}
		m.ToolCall(tool, "ok")
		return res, out, nil
	}
}

func parseID(op, field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, apperr.Invalid(op, field+" must be a UUID")
	}
	return id, nil
}

func parseIDs(op, field string, raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := parseID(op, field, r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// makeAskHandler creates the ask tool handler.
func makeAskHandler(svc *assistant.Service) handler[AskInput, AskOutput] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, AskOutput, error) {
		const op = "mcp.ask"
		var owner uuid.UUID
		if input.OwnerID != "" {
			id, err := parseID(op, "owner_id", input.OwnerID)
			if err != nil {
				return nil, AskOutput{}, err
			}
			owner = id
		}
		scope, err := parseIDs(op, "scope", input.Scope)
		if err != nil {
			return nil, AskOutput{}, err
		}

		resp, err := svc.Ask(ctx, assistant.Request{
			OwnerID:    owner,
			Scope:      scope,
			Query:      input.Query,
			GradeLevel: generation.GradeLevel(input.GradeLevel),
			IntentHint: intent.Intent(input.IntentHint),
		})
		if err != nil {
			return nil, AskOutput{}, err
		}

		out := AskOutput{
			UserMessageID: resp.UserMessageID.String(),
			Answer:        resp.Answer,
			UsedSources:   make([]UsedSource, 0, len(resp.UsedSources)),
			Safety:        resp.Safety,
			Intent:        string(resp.Intent),
		}
		if resp.AssistantMessageID != uuid.Nil {
			out.AssistantMessageID = resp.AssistantMessageID.String()
		}
		for _, src := range resp.UsedSources {
			out.UsedSources = append(out.UsedSources, UsedSource{
				ChunkID:    src.ChunkID.String(),
				ResourceID: src.ResourceID.String(),
				Rank:       src.Rank,
				Score:      src.Score,
			})
		}
		return nil, out, nil
	}
}

// makeSafetyReportHandler creates the get_safety_report tool handler.
func makeSafetyReportHandler(svc *assistant.Service) handler[SafetyReportInput, SafetyReport] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SafetyReportInput) (*mcp.CallToolResult, SafetyReport, error) {
		id, err := parseID("mcp.get_safety_report", "message_id", input.MessageID)
		if err != nil {
			return nil, SafetyReport{}, err
		}
		rep, err := svc.SafetyReport(ctx, id)
		if err != nil {
			return nil, SafetyReport{}, err
		}
		out := toSafetyReport(rep.MissingConcepts, rep.ExtraConcepts, rep.FlaggedSentences)
		out.MessageID = id.String()
		out.Severity = rep.Severity
		out.Confidence = rep.Confidence
		out.Reliability = rep.Reliability
		return nil, out, nil
	}
}

// makeAuditHandler creates the audit_text tool handler. It persists nothing.
func makeAuditHandler(svc *assistant.Service) handler[AuditTextInput, SafetyReport] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AuditTextInput) (*mcp.CallToolResult, SafetyReport, error) {
		rep := svc.Audit(input.Answer, input.Context)
		out := toSafetyReport(rep.MissingConcepts, rep.ExtraConcepts, rep.FlaggedSentences)
		out.Severity = rep.Severity
		out.Confidence = rep.Confidence
		out.Reliability = rep.Reliability
		return nil, out, nil
	}
}

// toSafetyReport keeps the lists non-nil for JSON marshaling.
func toSafetyReport(missing, extra []string, flagged []storage.FlaggedSentence) SafetyReport {
	if missing == nil {
		missing = []string{}
	}
	if extra == nil {
		extra = []string{}
	}
	if flagged == nil {
		flagged = []storage.FlaggedSentence{}
	}
	return SafetyReport{MissingConcepts: missing, ExtraConcepts: extra, FlaggedSentences: flagged}
}

// makeIndexHandler creates the index_resource tool handler.
func makeIndexHandler(pipeline *indexer.Pipeline) handler[IndexResourceInput, IndexResourceOutput] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IndexResourceInput) (*mcp.CallToolResult, IndexResourceOutput, error) {
		const op = "mcp.index_resource"
		id, err := parseID(op, "resource_id", input.ResourceID)
		if err != nil {
			return nil, IndexResourceOutput{}, err
		}
		res, err := pipeline.Index(ctx, id)
		if err != nil {
			return nil, IndexResourceOutput{}, indexError(op, err)
		}
		return nil, IndexResourceOutput{
			ResourceID:       res.ResourceID.String(),
			Status:           string(res.Status),
			ChunksCreated:    res.ChunksCreated,
			DocumentEmbedded: res.DocumentEmbedded,
			Language:         string(res.Language),
			DurationMS:       res.Duration.Milliseconds(),
		}, nil
	}
}

// indexError classifies an ingestion failure.
func indexError(op string, err error) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return err
	case errors.Is(err, indexer.ErrNoTextExtracted):
		return &apperr.Error{Kind: apperr.KindInvalidInput, Op: op, Msg: "no text could be extracted from the resource", Err: err}
	case errors.Is(err, extract.ErrUnsupportedMIME):
		return &apperr.Error{Kind: apperr.KindInvalidInput, Op: op, Msg: "the resource type is not supported", Err: err}
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, extract.ErrBlobNotFound):
		return apperr.E(apperr.KindNotFound, op, err)
	case errors.Is(err, storage.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return apperr.E(apperr.KindUpstreamUnavailable, op, err)
	}
	return apperr.E(apperr.KindInternal, op, err)
}

// ResourceLister lists an owner's resources.
type ResourceLister interface {
	ListResources(ctx context.Context, ownerID uuid.UUID) ([]*storage.Resource, error)
}

// makeListHandler creates the list_resources tool handler.
func makeListHandler(store ResourceLister) handler[ListResourcesInput, ListResourcesOutput] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListResourcesInput) (*mcp.CallToolResult, ListResourcesOutput, error) {
		const op = "mcp.list_resources"
		owner, err := parseID(op, "owner_id", input.OwnerID)
		if err != nil {
			return nil, ListResourcesOutput{}, err
		}
		resources, err := store.ListResources(ctx, owner)
		if err != nil {
			return nil, ListResourcesOutput{}, indexError(op, err)
		}
		out := ListResourcesOutput{Resources: make([]Resource, 0, len(resources))}
		for _, r := range resources {
			out.Resources = append(out.Resources, Resource{
				ID:            r.ID.String(),
				Filename:      r.Filename,
				MIME:          r.MIME,
				Status:        string(r.Status),
				Language:      r.Language,
				FailureReason: r.FailureReason,
				UpdatedAt:     r.UpdatedAt.UTC().Format(time.RFC3339),
			})
		}
		out.Count = len(out.Resources)
		return nil, out, nil
	}
}
