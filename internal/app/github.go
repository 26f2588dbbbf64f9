package app

import (
	"context"

	"github.com/google/uuid"

	"github.com/bull/sinhala-tutor-rag/internal/github"
	"github.com/bull/sinhala-tutor-rag/internal/indexer"
)

// repositorySource exposes a GitHub directory to the indexer.
type repositorySource struct {
	fetcher *github.Fetcher
	exts    []string
}

func (s repositorySource) Revision(ctx context.Context) (string, error) {
	return s.fetcher.GetLatestCommitSHA(ctx)
}

func (s repositorySource) Files(ctx context.Context) ([]indexer.RemoteFile, error) {
	entries, err := s.fetcher.ListFiles(ctx, s.exts...)
	if err != nil {
		return nil, err
	}
	files := make([]indexer.RemoteFile, 0, len(entries))
	for _, e := range entries {
		files = append(files, indexer.RemoteFile{
			Path:        e.Path,
			StoragePath: s.fetcher.StoragePath(e),
			SHA:         e.SHA,
			Size:        e.Size,
		})
	}
	return files, nil
}

// GitHubImport names a repository directory to import.
type GitHubImport struct {
	Owner    string
	Repo     string
	BasePath string
	Ref      string
	// Extensions defaults to github.DefaultExtensions.
	Extensions []string
}

// ImportGitHub registers every matching file under the directory as a
// resource of ownerID and indexes it.
func (a *App) ImportGitHub(ctx context.Context, imp GitHubImport, ownerID uuid.UUID) (*indexer.Report, error) {
	src := repositorySource{
		fetcher: github.NewFetcher(a.GitHub, imp.Owner, imp.Repo, imp.BasePath, imp.Ref),
		exts:    imp.Extensions,
	}
	return a.Pipeline.ImportRepository(ctx, src, ownerID)
}
