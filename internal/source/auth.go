package source

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"
	gogithttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gogitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/syncd-io/syncd/internal/config"
	"github.com/syncd-io/syncd/internal/errs"
)

// credentials produces a bearer token for API calls. Tokens may be
// static (read from the environment) or minted on demand (GitHub App
// installation tokens, which expire and are re-exchanged).
type credentials interface {
	token(ctx context.Context) (string, error)
}

type staticToken struct{ envVar string }

func (s staticToken) token(context.Context) (string, error) {
	return os.Getenv(s.envVar), nil
}

type anonymous struct{}

func (anonymous) token(context.Context) (string, error) { return "", nil }

// appToken caches a GitHub App installation token and re-exchanges it
// shortly before expiry.
type appToken struct {
	appID     string
	installID string
	keyFile   string
	apiBase   string

	mu      sync.Mutex
	current string
	expires time.Time
}

func (a *appToken) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != "" && time.Until(a.expires) > 2*time.Minute {
		return a.current, nil
	}

	pem, err := os.ReadFile(a.keyFile)
	if err != nil {
		return "", fmt.Errorf("%w: reading app key %s: %v", errs.AuthFailed, a.keyFile, err)
	}
	result, err := ExchangeGitHubAppToken(ctx, pem, a.appID, a.installID, a.apiBase)
	if err != nil {
		return "", fmt.Errorf("%w: exchanging app token: %v", errs.AuthFailed, err)
	}
	a.current = result.Token
	a.expires = result.ExpiresAt
	return a.current, nil
}

// resolveCredentials picks the API credential source for a platform:
// GitHub App when configured, then token env var, else anonymous.
func resolveCredentials(p config.Platform) (credentials, error) {
	switch {
	case p.AppID != "" && p.AppKeyFile != "":
		if p.InstallID == "" {
			return nil, fmt.Errorf("%w: platform %q configures a GitHub App without installId", errs.ConfigInvalid, p.Name)
		}
		return &appToken{appID: p.AppID, installID: p.InstallID, keyFile: p.AppKeyFile, apiBase: p.BaseURL}, nil
	case p.TokenEnv != "":
		return staticToken{envVar: p.TokenEnv}, nil
	default:
		return anonymous{}, nil
	}
}

// resolveTransportAuth builds the go-git transport.AuthMethod for the
// generic git adapter: an SSH deploy key (with optional known_hosts
// pinning) or an HTTPS token. Returns nil auth for public repos.
func resolveTransportAuth(p config.Platform) (transport.AuthMethod, error) {
	if p.SSHKeyFile != "" {
		pem, err := os.ReadFile(p.SSHKeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading SSH key %s: %v", errs.AuthFailed, p.SSHKeyFile, err)
		}
		publicKey, err := gogitssh.NewPublicKeys("git", pem, "")
		if err != nil {
			return nil, fmt.Errorf("%w: parsing SSH private key: %v", errs.AuthFailed, err)
		}
		if khFile := p.Options["knownHostsFile"]; khFile != "" {
			callback, err := knownhosts.New(khFile)
			if err != nil {
				return nil, fmt.Errorf("%w: parsing known_hosts %s: %v", errs.AuthFailed, khFile, err)
			}
			publicKey.HostKeyCallback = callback
		} else {
			publicKey.HostKeyCallback = ssh.InsecureIgnoreHostKey()
		}
		return publicKey, nil
	}

	if p.TokenEnv != "" {
		if token := os.Getenv(p.TokenEnv); token != "" {
			return &gogithttp.BasicAuth{
				Username: "x-access-token",
				Password: token,
			}, nil
		}
	}
	return nil, nil
}
