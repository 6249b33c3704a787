package artifact

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"everyday/internal/observability"

	"github.com/google/go-github/v66/github"
)

// GitHubConfig points a GitHubStore at one branch of one repository.
type GitHubConfig struct {
	Token  string
	Owner  string
	Repo   string
	Branch string
}

// GitHubStore uses a repository branch as the store. The version is the
// branch head commit SHA; a batch becomes one commit whose parent is the base
// version, published with a non-forced ref update.
type GitHubStore struct {
	client *github.Client
	owner  string
	repo   string
	branch string
}

// NewGitHubStore builds a store authenticated with cfg.Token.
func NewGitHubStore(cfg GitHubConfig) *GitHubStore {
	return NewGitHubStoreWithClient(github.NewClient(nil).WithAuthToken(cfg.Token), cfg)
}

// NewGitHubStoreWithClient uses an existing client, e.g. one pointed at a test server.
func NewGitHubStoreWithClient(client *github.Client, cfg GitHubConfig) *GitHubStore {
	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}
	return &GitHubStore{client: client, owner: cfg.Owner, repo: cfg.Repo, branch: branch}
}

func statusOf(err error) int {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: github %s: %w", ErrUpstream, op, err)
}

func (s *GitHubStore) Head(ctx context.Context) (string, error) {
	ref, _, err := s.client.Git.GetRef(ctx, s.owner, s.repo, "heads/"+s.branch)
	if err != nil {
		return "", upstream("get ref", err)
	}
	return ref.GetObject().GetSHA(), nil
}

// Read resolves the branch head first and reads the file at that commit, so
// the returned version always matches the returned content.
func (s *GitHubStore) Read(ctx context.Context, key string) (Object, error) {
	defer observability.TrackStore("github", "read")()
	ctx, span := observability.TraceStoreOperation(ctx, "github", "read")
	defer span.End()

	head, err := s.Head(ctx)
	if err != nil {
		return Object{}, err
	}

	file, _, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, key,
		&github.RepositoryContentGetOptions{Ref: head})
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return Object{}, ErrNotFound
		}
		return Object{}, upstream("get contents", err)
	}
	if file == nil {
		return Object{}, fmt.Errorf("%w: %s is a directory", ErrNotFound, key)
	}

	// blobs API also covers files above the contents API size limit
	data, _, err := s.client.Git.GetBlobRaw(ctx, s.owner, s.repo, file.GetSHA())
	if err != nil {
		return Object{}, upstream("get blob", err)
	}
	return Object{Data: data, Version: head}, nil
}

func (s *GitHubStore) WriteMany(ctx context.Context, entries []Entry, message, baseVersion string) (string, error) {
	defer observability.TrackStore("github", "write")()
	ctx, span := observability.TraceStoreOperation(ctx, "github", "write")
	defer span.End()

	if baseVersion == "" {
		head, err := s.Head(ctx)
		if err != nil {
			return "", err
		}
		baseVersion = head
	}

	parent, _, err := s.client.Git.GetCommit(ctx, s.owner, s.repo, baseVersion)
	if err != nil {
		return "", upstream("get commit", err)
	}

	tree := make([]*github.TreeEntry, 0, len(entries))
	for _, e := range entries {
		blob, _, err := s.client.Git.CreateBlob(ctx, s.owner, s.repo, &github.Blob{
			Content:  github.Ptr(base64.StdEncoding.EncodeToString(e.Data)),
			Encoding: github.Ptr("base64"),
		})
		if err != nil {
			return "", upstream("create blob", err)
		}
		tree = append(tree, &github.TreeEntry{
			Path: github.Ptr(e.Key),
			Mode: github.Ptr("100644"),
			Type: github.Ptr("blob"),
			SHA:  blob.SHA,
		})
	}

	newTree, _, err := s.client.Git.CreateTree(ctx, s.owner, s.repo, parent.GetTree().GetSHA(), tree)
	if err != nil {
		return "", upstream("create tree", err)
	}

	commit, _, err := s.client.Git.CreateCommit(ctx, s.owner, s.repo, &github.Commit{
		Message: github.Ptr(message),
		Tree:    newTree,
		Parents: []*github.Commit{{SHA: github.Ptr(baseVersion)}},
	}, nil)
	if err != nil {
		return "", upstream("create commit", err)
	}

	// Unreferenced blobs, trees and commits left by a failed update are never
	// reachable from the branch.
	_, _, err = s.client.Git.UpdateRef(ctx, s.owner, s.repo, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + s.branch),
		Object: &github.GitObject{SHA: commit.SHA},
	}, false)
	if err != nil {
		switch statusOf(err) {
		case http.StatusUnprocessableEntity, http.StatusConflict:
			return "", fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return "", upstream("update ref", err)
	}
	return commit.GetSHA(), nil
}
