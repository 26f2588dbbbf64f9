package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/google/go-github/v81/github"
)

// DefaultExtensions are the study material formats imported from a repository.
var DefaultExtensions = []string{".md", ".txt"}

// FetchedFile is one file fetched from a repository.
type FetchedFile struct {
	Path    string // relative to the fetcher's base path
	Content []byte
	SHA     string // git blob SHA
	URL     string // storage path, github://owner/repo/full/path
}

// Fetcher lists and fetches study material under one repository directory.
type Fetcher struct {
	client   *Client
	owner    string
	repo     string
	basePath string
	ref      string
}

// NewFetcher creates a fetcher rooted at basePath. An empty ref reads the
// default branch.
func NewFetcher(client *Client, owner, repo, basePath, ref string) *Fetcher {
	return &Fetcher{
		client:   client,
		owner:    owner,
		repo:     repo,
		basePath: strings.Trim(basePath, "/"),
		ref:      ref,
	}
}

func (f *Fetcher) contentOptions() *github.RepositoryContentGetOptions {
	return refOptions(f.ref)
}

func refOptions(ref string) *github.RepositoryContentGetOptions {
	if ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: ref}
}

// Entry is a file listed under the base path.
type Entry struct {
	Path     string // relative to the base path
	FullPath string
	SHA      string
	Size     int64
}

// ListFiles recursively lists files under the base path whose extension is
// in exts (DefaultExtensions when empty).
func (f *Fetcher) ListFiles(ctx context.Context, exts ...string) ([]Entry, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	return f.listRecursive(ctx, f.basePath, "", exts)
}

func (f *Fetcher) listRecursive(ctx context.Context, fullPath, relativePath string, exts []string) ([]Entry, error) {
	var files []Entry

	_, dirContents, _, err := f.client.Repositories.GetContents(ctx, f.owner, f.repo, fullPath, f.contentOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %s: %w", fullPath, err)
	}

	for _, item := range dirContents {
		if item.Type == nil || item.Name == nil {
			continue
		}

		itemRelPath := path.Join(relativePath, *item.Name)

		switch *item.Type {
		case "file":
			if hasExtension(*item.Name, exts) {
				files = append(files, Entry{
					Path:     itemRelPath,
					FullPath: path.Join(fullPath, *item.Name),
					SHA:      item.GetSHA(),
					Size:     int64(item.GetSize()),
				})
			}

		case "dir":
			itemFullPath := path.Join(fullPath, *item.Name)
			sub, err := f.listRecursive(ctx, itemFullPath, itemRelPath, exts)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
		}
	}

	return files, nil
}

func hasExtension(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// FetchFile fetches one file relative to the base path.
func (f *Fetcher) FetchFile(ctx context.Context, relativePath string) (*FetchedFile, error) {
	fullPath := path.Join(f.basePath, relativePath)

	content, sha, err := getFile(ctx, f.client, f.owner, f.repo, fullPath, f.contentOptions())
	if err != nil {
		return nil, err
	}

	return &FetchedFile{
		Path:    relativePath,
		Content: content,
		SHA:     sha,
		URL:     StoragePath(f.owner, f.repo, fullPath),
	}, nil
}

// GetLatestCommitSHA retrieves the SHA of the most recent commit affecting the base path
func (f *Fetcher) GetLatestCommitSHA(ctx context.Context) (string, error) {
	opts := &github.CommitsListOptions{
		Path:        f.basePath,
		SHA:         f.ref,
		ListOptions: github.ListOptions{PerPage: 1},
	}
	commits, _, err := f.client.Repositories.ListCommits(ctx, f.owner, f.repo, opts)
	if err != nil {
		return "", fmt.Errorf("failed to get latest commit: %w", err)
	}

	if len(commits) == 0 {
		return "", fmt.Errorf("no commits found for path %s", f.basePath)
	}

	if commits[0].SHA == nil {
		return "", fmt.Errorf("commit SHA is nil")
	}

	return *commits[0].SHA, nil
}

func getFile(ctx context.Context, client *Client, owner, repo, fullPath string, opts *github.RepositoryContentGetOptions) ([]byte, string, error) {
	fileContent, _, resp, err := client.Repositories.GetContents(ctx, owner, repo, fullPath, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return nil, "", fmt.Errorf("%s: %w", fullPath, ErrFileNotFound)
		}
		return nil, "", fmt.Errorf("failed to get content of %s: %w", fullPath, err)
	}

	if fileContent == nil || fileContent.Content == nil {
		return nil, "", fmt.Errorf("no file content returned for %s", fullPath)
	}

	content, err := base64.StdEncoding.DecodeString(stripNewlines(*fileContent.Content))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode content of %s: %w", fullPath, err)
	}

	return content, fileContent.GetSHA(), nil
}

// contents API wraps base64 at 60 columns
func stripNewlines(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// StoragePath returns the github:// path of e, pinned to the fetcher's ref.
func (f *Fetcher) StoragePath(e Entry) string {
	p := StoragePath(f.owner, f.repo, e.FullPath)
	if f.ref != "" {
		p += "@" + f.ref
	}
	return p
}
