// Package gitlib implements the miner repository interface on top of libgit2.
// A Repository handle is not safe for concurrent use; open one per goroutine.
package gitlib

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	git2go "github.com/libgit2/git2go/v34"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("defectminer/gitlib")

// ErrRemoteNotSupported is returned when a remote repository URI is provided.
var ErrRemoteNotSupported = errors.New("remote repositories not supported")

var scpLikeURI = regexp.MustCompile(`^[A-Za-z]\w*@[A-Za-z0-9][\w.]*:`)

// Repository wraps a libgit2 repository.
type Repository struct {
	repo *git2go.Repository
	path string
}

// OpenRepository opens a local git repository at the given path.
func OpenRepository(path string) (*Repository, error) {
	if strings.Contains(path, "://") || scpLikeURI.MatchString(path) {
		return nil, fmt.Errorf("%w: %s", ErrRemoteNotSupported, path)
	}

	path = strings.TrimSuffix(path, string(os.PathSeparator))

	repo, err := git2go.OpenRepository(path)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	return &Repository{repo: repo, path: path}, nil
}

// Path returns the repository path.
func (r *Repository) Path() string {
	return r.path
}

// Close releases the repository resources.
func (r *Repository) Close() error {
	if r.repo != nil {
		r.repo.Free()
		r.repo = nil
	}

	return nil
}

// CommitIDs lists the commits reachable from HEAD, newest first.
func (r *Repository) CommitIDs(ctx context.Context) ([]string, error) {
	walk, err := r.repo.Walk()
	if err != nil {
		return nil, fmt.Errorf("create revwalk: %w", err)
	}
	defer walk.Free()

	pushErr := walk.PushHead()
	if pushErr != nil {
		return nil, fmt.Errorf("push HEAD to revwalk: %w", pushErr)
	}

	walk.Sorting(git2go.SortTime | git2go.SortTopological)

	var ids []string

	oid := new(git2go.Oid)

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		nextErr := walk.Next(oid)
		if git2go.IsErrorCode(nextErr, git2go.ErrorCodeIterOver) {
			break
		}

		if nextErr != nil {
			return nil, fmt.Errorf("revwalk next: %w", nextErr)
		}

		ids = append(ids, oid.String())
	}

	return ids, nil
}

func (r *Repository) lookupCommit(id string) (*git2go.Commit, error) {
	oid, err := git2go.NewOid(id)
	if err != nil {
		return nil, fmt.Errorf("parse commit id %q: %w", id, err)
	}

	commit, err := r.repo.LookupCommit(oid)
	if err != nil {
		return nil, fmt.Errorf("lookup commit %s: %w", id, err)
	}

	return commit, nil
}
