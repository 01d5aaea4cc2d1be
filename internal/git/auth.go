package git

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	gogithttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gogitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/ia-eknorr/shipgate/api/v1alpha1"
)

// tokenUser is the username GitHub expects alongside an access token.
const tokenUser = "x-access-token"

// ResolveAuth builds a go-git transport.AuthMethod from local credential files.
// Returns nil auth (valid for public repos) if no auth is configured.
func ResolveAuth(ctx context.Context, spec *v1alpha1.GitAuthSpec) (transport.AuthMethod, error) {
	if spec == nil {
		return nil, nil
	}

	switch {
	case spec.SSHKeyFile != "":
		return resolveSSHAuth(spec.SSHKeyFile, spec.KnownHostsFile)
	case spec.TokenFile != "":
		return resolveTokenAuth(spec.TokenFile)
	case spec.GitHubApp != nil:
		return resolveGitHubAppAuth(ctx, spec.GitHubApp)
	default:
		return nil, nil
	}
}

func resolveGitHubAppAuth(ctx context.Context, app *v1alpha1.GitHubAppAuth) (transport.AuthMethod, error) {
	pemBytes, err := os.ReadFile(app.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading GitHub App private key %s: %w", app.PrivateKeyFile, err)
	}

	result, err := ExchangeGitHubAppToken(ctx, pemBytes, app.AppID, app.InstallationID, app.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("exchanging GitHub App token: %w", err)
	}

	return &gogithttp.BasicAuth{Username: tokenUser, Password: result.Token}, nil
}

func resolveSSHAuth(keyFile, knownHostsFile string) (transport.AuthMethod, error) {
	pemBytes, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("reading SSH key %s: %w", keyFile, err)
	}

	publicKey, err := gogitssh.NewPublicKeys("git", pemBytes, "")
	if err != nil {
		return nil, fmt.Errorf("parsing SSH private key: %w", err)
	}

	if knownHostsFile != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("parsing known_hosts %s: %w", knownHostsFile, err)
		}
		publicKey.HostKeyCallback = cb
	} else {
		publicKey.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return publicKey, nil
}

func resolveTokenAuth(tokenFile string) (transport.AuthMethod, error) {
	data, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("reading token file %s: %w", tokenFile, err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return nil, fmt.Errorf("token file %s is empty", tokenFile)
	}
	return &gogithttp.BasicAuth{Username: tokenUser, Password: token}, nil
}
