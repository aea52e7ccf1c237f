package content

import (
	"context"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
)

// GitSource is a resolved git content item.
type GitSource struct {
	URL string
	// Ref is a branch, a tag or a full reference name. Empty means HEAD.
	Ref string
	// Token authenticates HTTPS clones.
	Token string
}

// Cloner checks out a git source and returns its worktree.
type Cloner interface {
	Clone(ctx context.Context, src GitSource) (billy.Filesystem, error)
}

// GitCloner clones into memory with go-git.
type GitCloner struct {
	// Depth limits history. Zero clones everything.
	Depth int
}

// Clone implements Cloner. A short ref is tried as a branch and then as a tag.
func (c GitCloner) Clone(ctx context.Context, src GitSource) (billy.Filesystem, error) {
	if src.URL == "" {
		return nil, errors.New(errors.CodeInvalidInput, "git url is required")
	}

	refs := []plumbing.ReferenceName{""}
	switch {
	case strings.HasPrefix(src.Ref, "refs/"):
		refs = []plumbing.ReferenceName{plumbing.ReferenceName(src.Ref)}
	case src.Ref != "":
		refs = []plumbing.ReferenceName{
			plumbing.NewBranchReferenceName(src.Ref),
			plumbing.NewTagReferenceName(src.Ref),
		}
	}

	var err error
	for _, ref := range refs {
		fs := memfs.New()
		opts := &git.CloneOptions{
			URL:           src.URL,
			ReferenceName: ref,
			Depth:         c.Depth,
			SingleBranch:  true,
			Tags:          git.NoTags,
		}
		if src.Token != "" {
			opts.Auth = &http.BasicAuth{Username: "token", Password: src.Token}
		}

		_, err = git.CloneContext(ctx, memory.NewStorage(), fs, opts)
		if err == nil {
			return fs, nil
		}
		if !errors.Is(err, git.NoMatchingRefSpecError{}) && !errors.Is(err, plumbing.ErrReferenceNotFound) {
			break
		}
	}
	return nil, cloneError(err, src)
}

func cloneError(err error, src GitSource) error {
	code := errors.CodeExecutionFailed
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		code = errors.CodeForbidden
	case errors.Is(err, transport.ErrRepositoryNotFound),
		errors.Is(err, git.NoMatchingRefSpecError{}),
		errors.Is(err, plumbing.ErrReferenceNotFound):
		code = errors.CodeNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = errors.CodeCancelled
	}
	return errors.Wrap(err, code, "failed to clone "+src.URL).
		WithContext("url", src.URL).
		WithContext("ref", src.Ref)
}
