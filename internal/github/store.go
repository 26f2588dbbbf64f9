package github

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Scheme is the storage path scheme served by Store.
const Scheme = "github"

// ErrFileNotFound is returned when the repository has no file at a path.
var ErrFileNotFound = errors.New("github file not found")

// StoragePath builds github://owner/repo/path.
func StoragePath(owner, repo, fullPath string) string {
	return fmt.Sprintf("%s://%s/%s/%s", Scheme, owner, repo, strings.TrimPrefix(fullPath, "/"))
}

// ParseStoragePath splits github://owner/repo/path[@ref].
func ParseStoragePath(p string) (owner, repo, fullPath, ref string, err error) {
	rest, ok := strings.CutPrefix(p, Scheme+"://")
	if !ok {
		return "", "", "", "", fmt.Errorf("not a github path: %q", p)
	}
	if i := strings.LastIndexByte(rest, '@'); i >= 0 {
		rest, ref = rest[:i], rest[i+1:]
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", "", fmt.Errorf("github path needs owner/repo/path: %q", p)
	}
	return parts[0], parts[1], parts[2], ref, nil
}

// Store reads github:// storage paths through the contents API.
type Store struct {
	client *Client
}

// NewStore returns a blob store backed by client.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

func (s *Store) Read(ctx context.Context, p string) ([]byte, error) {
	owner, repo, fullPath, ref, err := ParseStoragePath(p)
	if err != nil {
		return nil, err
	}
	content, _, err := getFile(ctx, s.client, owner, repo, fullPath, refOptions(ref))
	return content, err
}
