// Package gitcli implements the miner repository interface by running the git
// executable. A Client holds no open handles and is safe for concurrent use.
package gitcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/defectminer/pkg/gitparse"
)

// DefaultTimeout bounds a single git invocation.
const DefaultTimeout = 5 * time.Minute

// fullContext makes every hunk span its whole file.
const fullContext = 999999999

// ErrTimeout is returned when a git invocation exceeds the client timeout.
var ErrTimeout = errors.New("git command timed out")

// Client runs git inside one repository working directory.
type Client struct {
	dir     string
	binary  string
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each git invocation.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithBinary overrides the git executable.
func WithBinary(path string) Option {
	return func(c *Client) { c.binary = path }
}

// New creates a client for the repository at dir.
func New(dir string, opts ...Option) *Client {
	c := &Client{dir: dir, binary: "git", timeout: DefaultTimeout}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// run executes git with args and returns its stdout verbatim.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Dir = c.dir

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("git %s: %w after %v", args[0], ErrTimeout, c.timeout)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

// CommitIDs lists the commits reachable from HEAD, newest first.
func (c *Client) CommitIDs(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "rev-list", "HEAD")
	if err != nil {
		return nil, err
	}

	return strings.Fields(out), nil
}

// Header returns the header fields of commit id.
func (c *Client) Header(ctx context.Context, id string) (gitparse.Header, error) {
	out, err := c.run(ctx, "show", id, "--no-patch", "--no-color", "--pretty=format:"+gitparse.HeaderFormat)
	if err != nil {
		return gitparse.Header{}, err
	}

	return gitparse.ParseHeader(out)
}

// Diff returns the full-context patch of commit id against its first parent.
func (c *Client) Diff(ctx context.Context, id string) (string, error) {
	return c.run(ctx, "show", id,
		"--pretty=format:",
		"--unified="+strconv.Itoa(fullContext),
		"--no-color",
		"--no-ext-diff",
		"--find-renames",
	)
}

// Blame returns `git blame -t -n -l` output of path at rev, one entry per line.
// Root commits are not treated as boundaries so every id is printed in full.
func (c *Client) Blame(ctx context.Context, rev, path string) ([]string, error) {
	out, err := c.run(ctx, "blame", "-t", "-n", "-l", "--root", rev, "--", path)
	if err != nil {
		return nil, err
	}

	if out == "" {
		return nil, nil
	}

	return gitparse.SplitLines(out), nil
}
