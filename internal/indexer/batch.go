package indexer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bull/sinhala-tutor-rag/internal/storage"
)

// Report contains statistics about indexing a set of resources.
type Report struct {
	Total            int
	Indexed          int
	AlreadyProcessed int
	TotalChunks      int
	Failed           []Failure
	Revision         string
	Duration         time.Duration
}

// Failure is a resource that failed to index.
type Failure struct {
	ResourceID uuid.UUID
	Filename   string
	Reason     string
}

// DefaultConcurrency bounds how many resources are indexed at once.
const DefaultConcurrency = 4

// IndexOwner indexes every resource of an owner that has not been processed.
// Per-resource failures are collected in the report; only listing errors and
// cancellation fail the call.
func (p *Pipeline) IndexOwner(ctx context.Context, ownerID uuid.UUID) (*Report, error) {
	resources, err := p.store.ListResources(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return p.indexAll(ctx, resources)
}

func (p *Pipeline) indexAll(ctx context.Context, resources []*storage.Resource) (*Report, error) {
	start := time.Now()
	report := &Report{Total: len(resources)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultConcurrency)
	for _, res := range resources {
		g.Go(func() error {
			result, err := p.Index(gctx, res.ID)
			if gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, Failure{
					ResourceID: res.ID,
					Filename:   res.Filename,
					Reason:     err.Error(),
				})
				return nil
			}
			switch result.Status {
			case StatusAlreadyProcessed:
				report.AlreadyProcessed++
			default:
				report.Indexed++
			}
			report.TotalChunks += result.ChunksCreated
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	p.logger.Info("Indexing complete",
		zap.Int("total", report.Total),
		zap.Int("indexed", report.Indexed),
		zap.Int("already_processed", report.AlreadyProcessed),
		zap.Int("failed", len(report.Failed)),
		zap.Int("chunks", report.TotalChunks),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// RemoteFile is one file listed by a RepositorySource.
type RemoteFile struct {
	Path        string // relative path, used as the filename
	StoragePath string
	SHA         string
	Size        int64
}

// RepositorySource lists study material held in a remote repository.
type RepositorySource interface {
	Revision(ctx context.Context) (string, error)
	Files(ctx context.Context) ([]RemoteFile, error)
}

// ImportRepository registers every file of src as a resource of ownerID
// and indexes them. Resource ids derive from the owner, storage path and
// blob SHA, so re-importing unchanged files is a no-op.
func (p *Pipeline) ImportRepository(ctx context.Context, src RepositorySource, ownerID uuid.UUID) (*Report, error) {
	rev, err := src.Revision(ctx)
	if err != nil {
		return nil, fmt.Errorf("get revision: %w", err)
	}
	p.logger.Info("Starting import", zap.String("revision", rev))

	files, err := src.Files(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	p.logger.Info("Found files", zap.Int("count", len(files)))

	resources := make([]*storage.Resource, 0, len(files))
	for _, f := range files {
		res, err := p.register(ctx, ownerID, f)
		if err != nil {
			return nil, err
		}
		resources = append(resources, res)
	}

	report, err := p.indexAll(ctx, resources)
	if err != nil {
		return nil, err
	}
	report.Revision = rev
	return report, nil
}

// ImportedResourceID derives the id of an imported file.
func ImportedResourceID(ownerID uuid.UUID, storagePath, sha string) uuid.UUID {
	return uuid.NewSHA1(ownerID, []byte("import:"+storagePath+"@"+sha))
}

func (p *Pipeline) register(ctx context.Context, ownerID uuid.UUID, f RemoteFile) (*storage.Resource, error) {
	id := ImportedResourceID(ownerID, f.StoragePath, f.SHA)
	existing, err := p.store.GetResource(ctx, id)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get resource: %w", err)
	}

	res := &storage.Resource{
		ID:          id,
		OwnerID:     ownerID,
		Filename:    f.Path,
		StoragePath: f.StoragePath,
		MIME:        MIMEFromName(f.Path),
		SizeBytes:   f.Size,
		Language:    "unknown",
		Status:      storage.StatusPending,
	}
	if err := p.store.CreateResource(ctx, res); err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	return res, nil
}

var extensionMIME = map[string]string{
	".md":   "text/markdown",
	".txt":  "text/plain",
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
}

// MIMEFromName guesses a MIME type from a file extension.
func MIMEFromName(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if m, ok := extensionMIME[ext]; ok {
		return m
	}
	if m := mime.TypeByExtension(ext); m != "" {
		return m
	}
	return "application/octet-stream"
}
