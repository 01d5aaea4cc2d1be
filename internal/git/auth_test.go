package git

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	gogithttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gogitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"

	"github.com/ia-eknorr/shipgate/api/v1alpha1"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func generateTestSSHKey(t *testing.T) []byte {
	t.Helper()
	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating ed25519 key: %v", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(privKey)
	if err != nil {
		t.Fatalf("marshaling private key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
}

func generateKnownHostsEntry(t *testing.T) ([]byte, ssh.Signer) {
	t.Helper()
	_, hostPrivKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(hostPrivKey)
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}
	entry := fmt.Sprintf("localhost %s", ssh.MarshalAuthorizedKey(signer.PublicKey()))
	return []byte(entry), signer
}

func TestResolveAuth_None(t *testing.T) {
	auth, err := ResolveAuth(context.Background(), nil)
	if err != nil || auth != nil {
		t.Fatalf("expected nil auth for public repo, got %v, %v", auth, err)
	}
}

func TestResolveAuth_Token(t *testing.T) {
	path := writeTemp(t, "token", []byte("ghp_example\n"))

	auth, err := ResolveAuth(context.Background(), &v1alpha1.GitAuthSpec{TokenFile: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	basic, ok := auth.(*gogithttp.BasicAuth)
	if !ok {
		t.Fatalf("expected *BasicAuth, got %T", auth)
	}
	if basic.Username != "x-access-token" || basic.Password != "ghp_example" {
		t.Errorf("unexpected credentials %q/%q", basic.Username, basic.Password)
	}
}

func TestResolveAuth_EmptyToken(t *testing.T) {
	path := writeTemp(t, "token", []byte("  \n"))
	if _, err := ResolveAuth(context.Background(), &v1alpha1.GitAuthSpec{TokenFile: path}); err == nil {
		t.Fatal("expected error for empty token file")
	}
}

func TestResolveSSHAuth_WithoutKnownHosts(t *testing.T) {
	keyFile := writeTemp(t, "id_ed25519", generateTestSSHKey(t))

	auth, err := resolveSSHAuth(keyFile, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pk, ok := auth.(*gogitssh.PublicKeys)
	if !ok {
		t.Fatalf("expected *gogitssh.PublicKeys, got %T", auth)
	}

	// Any host key is accepted without known_hosts.
	_, hostSigner := generateKnownHostsEntry(t)
	if err := pk.HostKeyCallback("localhost:22", &net.TCPAddr{}, hostSigner.PublicKey()); err != nil {
		t.Fatalf("InsecureIgnoreHostKey should accept any key, got: %v", err)
	}
}

func TestResolveSSHAuth_WithKnownHosts(t *testing.T) {
	keyFile := writeTemp(t, "id_ed25519", generateTestSSHKey(t))
	knownHostsData, hostSigner := generateKnownHostsEntry(t)
	khFile := writeTemp(t, "known_hosts", knownHostsData)

	auth, err := resolveSSHAuth(keyFile, khFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pk := auth.(*gogitssh.PublicKeys)

	if err := pk.HostKeyCallback("localhost:22", &net.TCPAddr{}, hostSigner.PublicKey()); err != nil {
		t.Fatalf("expected known host to be accepted, got: %v", err)
	}
	_, unknownSigner := generateKnownHostsEntry(t)
	if err := pk.HostKeyCallback("localhost:22", &net.TCPAddr{}, unknownSigner.PublicKey()); err == nil {
		t.Fatal("expected unknown host key to be rejected")
	}
}

func TestResolveSSHAuth_MissingKnownHostsFile(t *testing.T) {
	keyFile := writeTemp(t, "id_ed25519", generateTestSSHKey(t))
	if _, err := resolveSSHAuth(keyFile, filepath.Join(t.TempDir(), "nonexistent")); err == nil {
		t.Fatal("expected error for missing known_hosts file")
	}
}
