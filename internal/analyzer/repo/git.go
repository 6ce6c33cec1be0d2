package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/EstifanosTeklay/automaton-auditor/internal/domain"
)

const (
	// CloneDepth bounds the history fetched for remote repositories.
	CloneDepth = 50

	// CloneTimeout bounds a single clone.
	CloneTimeout = 120 * time.Second

	logTimeout = 30 * time.Second
)

// Commit pattern labels.
const (
	PatternBulkUpload = "bulk_upload"
	PatternMinimal    = "minimal"
	PatternAtomic     = "atomic"
)

var allowedHosts = []string{"https://github.com/", "https://gitlab.com/"}

// ErrLocatorRejected is returned for locators that are not an allowed
// remote, or a local directory when local trees are permitted.
var ErrLocatorRejected = errors.New("repository locator rejected")

// Commit is one entry of the repository history, oldest first.
type Commit struct {
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// History summarizes the commit log.
type History struct {
	Commits []Commit `json:"commits"`
	Count   int      `json:"commit_count"`
	Pattern string   `json:"pattern"`
	Error   string   `json:"error,omitempty"`
}

// Git runs git subprocesses.
type Git struct {
	// Binary is the git executable; empty means "git" on PATH.
	Binary string
}

func (g Git) bin() string {
	if g.Binary == "" {
		return "git"
	}
	return g.Binary
}

// IsRemote reports whether locator uses an allowed git host.
func IsRemote(locator string) bool {
	for _, h := range allowedHosts {
		if strings.HasPrefix(locator, h) {
			return true
		}
	}
	return false
}

// Resolve validates locator. Remote locators must use an allowed host. Local
// directories are accepted only with allowLocal, and never the filesystem
// root.
func Resolve(locator string, allowLocal bool) (remote bool, err error) {
	if IsRemote(locator) {
		return true, nil
	}
	if !allowLocal {
		return false, fmt.Errorf("%w: %q is not a github.com or gitlab.com https URL",
			ErrLocatorRejected, locator)
	}
	abs, absErr := filepath.Abs(locator)
	if absErr == nil && filepath.Dir(abs) != abs {
		if info, statErr := os.Stat(abs); statErr == nil && info.IsDir() {
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: %q is not a github.com or gitlab.com URL or a local directory",
		ErrLocatorRejected, locator)
}

// Clone performs a shallow clone of url into dir.
func (g Git) Clone(ctx context.Context, url, dir string) error {
	ctx, cancel := context.WithTimeout(ctx, CloneTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.bin(), "clone", "--depth", fmt.Sprint(CloneDepth), url, dir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &domain.CollaboratorError{
			Collaborator: "git",
			Op:           "clone",
			Timeout:      errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:          fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())),
		}
	}
	return nil
}

// Log reads the history of the repository at dir. Failures are recorded in
// History.Error rather than returned; a directory that is not a git work tree
// simply has no history.
func (g Git) Log(ctx context.Context, dir string) History {
	ctx, cancel := context.WithTimeout(ctx, logTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.bin(), "log", "--reverse", "--format=%h|%ai|%s")
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return History{Commits: []Commit{}, Error: msg, Pattern: Pattern(0)}
	}
	return ParseLog(stdout.String())
}

// ParseLog parses "hash|date|subject" lines.
func ParseLog(out string) History {
	commits := []Commit{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			continue
		}
		commits = append(commits, Commit{Hash: parts[0], Timestamp: parts[1], Message: parts[2]})
	}
	return History{Commits: commits, Count: len(commits), Pattern: Pattern(len(commits))}
}

// Pattern classifies a history by its number of commits.
func Pattern(count int) string {
	switch {
	case count <= 1:
		return PatternBulkUpload
	case count <= 3:
		return PatternMinimal
	default:
		return PatternAtomic
	}
}
