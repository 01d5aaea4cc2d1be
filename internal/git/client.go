// Package git resolves application source revisions against the remote
// before the application is registered.
package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp"
	"github.com/go-git/go-git/v5/plumbing/transport"
	transportclient "github.com/go-git/go-git/v5/plumbing/transport/client"
)

// ErrRefNotFound is returned when the remote does not advertise the ref.
var ErrRefNotFound = errors.New("ref not found")

// Result holds a resolved revision.
type Result struct {
	Commit string
	Ref    string
}

// Resolver resolves a ref to a commit without cloning.
type Resolver interface {
	LsRemote(ctx context.Context, repoURL, ref string, auth transport.AuthMethod) (Result, error)
}

// GoGitClient implements Resolver using go-git.
type GoGitClient struct{}

var _ Resolver = (*GoGitClient)(nil)

// LsRemote resolves ref via a single advertised-references call.
func (g *GoGitClient) LsRemote(ctx context.Context, repoURL, ref string, auth transport.AuthMethod) (Result, error) {
	ep, err := transport.NewEndpoint(repoURL)
	if err != nil {
		return Result{}, fmt.Errorf("parsing endpoint %s: %w", repoURL, err)
	}

	cli, err := transportclient.NewClient(ep)
	if err != nil {
		return Result{}, fmt.Errorf("creating transport for %s: %w", repoURL, err)
	}

	sess, err := cli.NewUploadPackSession(ep, auth)
	if err != nil {
		return Result{}, fmt.Errorf("opening session for %s: %w", repoURL, err)
	}
	defer func() { _ = sess.Close() }()

	ar, err := sess.AdvertisedReferencesContext(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("ls-remote %s: %w", repoURL, err)
	}

	return matchRef(ar, ref, repoURL)
}

// matchRef resolves ref against the advertised references. Peeled entries are
// checked first so an annotated tag yields its commit rather than the tag object.
func matchRef(ar *packp.AdvRefs, ref, repoURL string) (Result, error) {
	if plumbing.IsHash(ref) {
		return Result{Commit: ref, Ref: ref}, nil
	}

	if ref == "" || ref == "HEAD" {
		if ar.Head != nil {
			return Result{Commit: ar.Head.String(), Ref: "HEAD"}, nil
		}
		return Result{}, fmt.Errorf("%w: remote %s advertises no HEAD", ErrRefNotFound, repoURL)
	}

	candidates := []string{"refs/tags/" + ref, "refs/heads/" + ref}
	if strings.HasPrefix(ref, "refs/") {
		candidates = []string{ref}
	}

	for _, candidate := range candidates {
		if hash, ok := ar.Peeled[candidate]; ok {
			return Result{Commit: hash.String(), Ref: ref}, nil
		}
	}
	for _, candidate := range candidates {
		if hash, ok := ar.References[candidate]; ok {
			return Result{Commit: hash.String(), Ref: ref}, nil
		}
	}

	return Result{}, fmt.Errorf("%w: %q in remote %s", ErrRefNotFound, ref, repoURL)
}
