package argocd

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// HTTPClient talks to the Argo CD REST API.
//
//	Session:  GET  /api/v1/session/userinfo
//	Login:    POST /api/v1/session {username,password} -> {token}
//	App:      GET  /api/v1/applications/{name}?appNamespace=
//	Sync:     POST /api/v1/applications/{name}/sync
type HTTPClient struct {
	Server    string
	AuthToken string
	Username  string
	Password  string
	Insecure  bool
	Timeout   time.Duration
	HTTP      *http.Client
	UserAgent string
	Log       logr.Logger

	mu         sync.Mutex
	loginToken string

	once  sync.Once
	built *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client for server (scheme optional, https assumed).
func NewHTTPClient(server string) *HTTPClient {
	if !strings.Contains(server, "://") {
		server = "https://" + server
	}
	return &HTTPClient{
		Server:    strings.TrimRight(server, "/"),
		Timeout:   15 * time.Second,
		UserAgent: "shipgate",
		Log:       logr.Discard(),
	}
}

// client returns HTTP when set, otherwise the client built on first use.
func (c *HTTPClient) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	c.once.Do(func() {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if c.Insecure {
			if transport.TLSClientConfig == nil {
				transport.TLSClientConfig = &tls.Config{}
			}
			transport.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec // explicit user flag
		}
		c.built = &http.Client{Timeout: c.Timeout, Transport: transport}
	})
	return c.built
}

func (c *HTTPClient) token() string {
	if c.AuthToken != "" {
		return c.AuthToken
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginToken
}

func (c *HTTPClient) ensureLogin(ctx context.Context) error {
	if c.token() != "" {
		return nil
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("%w: set ARGOCD_AUTH_TOKEN or ARGOCD_USERNAME/ARGOCD_PASSWORD", ErrUnauthorized)
	}

	payload := map[string]string{"username": c.Username, "password": c.Password}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/session", nil, payload, &out); err != nil {
		return err
	}
	if out.Token == "" {
		return fmt.Errorf("%w: login returned empty token", ErrUnauthorized)
	}
	c.mu.Lock()
	c.loginToken = out.Token
	c.mu.Unlock()
	return nil
}

// UserInfo checks the session. A reachable server that reports loggedIn=false
// yields ErrUnauthorized.
func (c *HTTPClient) UserInfo(ctx context.Context) (UserInfo, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return UserInfo{}, err
	}
	var info UserInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/session/userinfo", nil, nil, &info); err != nil {
		return UserInfo{}, err
	}
	if !info.LoggedIn {
		return info, fmt.Errorf("%w: session is not logged in", ErrUnauthorized)
	}
	return info, nil
}

func (c *HTTPClient) GetApplication(ctx context.Context, name, namespace string) (Application, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return Application{}, err
	}
	var raw applicationJSON
	if err := c.doJSON(ctx, http.MethodGet, appPath(name), appQuery(namespace), nil, &raw); err != nil {
		return Application{}, err
	}
	return raw.toApplication(), nil
}

func (c *HTTPClient) SyncApplication(ctx context.Context, name, namespace string, opts SyncOptions) error {
	if err := c.ensureLogin(ctx); err != nil {
		return err
	}
	payload := struct {
		Revision     string `json:"revision,omitempty"`
		Prune        bool   `json:"prune"`
		AppNamespace string `json:"appNamespace,omitempty"`
	}{Revision: opts.Revision, Prune: opts.Prune, AppNamespace: namespace}
	return c.doJSON(ctx, http.MethodPost, appPath(name)+"/sync", nil, payload, nil)
}

func appPath(name string) string {
	return "/api/v1/applications/" + url.PathEscape(name)
}

func appQuery(namespace string) url.Values {
	if namespace == "" {
		return nil
	}
	return url.Values{"appNamespace": []string{namespace}}
}

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("argocd api %s %s: %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Unwrap maps well-known responses to sentinel errors.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case strings.Contains(e.Message, "another operation is already in progress"):
		return ErrOperationInProgress
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	res, err := c.client().Do(req)
	dur := time.Since(start)
	if err != nil {
		hint := ""
		if es := err.Error(); strings.Contains(es, "x509") || strings.Contains(es, "certificate") {
			hint = " (TLS error: try --argocd-insecure or set ARGOCD_INSECURE=true)"
		}
		c.Log.V(1).Info("argocd request failed", "method", method, "path", path, "duration", dur, "error", err.Error())
		return fmt.Errorf("argocd request %s %s failed: %w%s", method, path, err, hint)
	}
	defer func() { _ = res.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	c.Log.V(2).Info("argocd request", "method", method, "path", path, "status", res.StatusCode, "duration", dur)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{Method: method, Path: path, StatusCode: res.StatusCode, Message: errorMessage(b)}
	}
	if out == nil || len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorMessage extracts the grpc-gateway message field, falling back to the raw body.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	return msg
}

type applicationJSON struct {
	Metadata struct {
		Name      string `json:"name"`
		Namespace string `json:"namespace"`
	} `json:"metadata"`
	Status struct {
		Sync struct {
			Status   string `json:"status"`
			Revision string `json:"revision"`
		} `json:"sync"`
		Health struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"health"`
		OperationState *struct {
			Phase      string       `json:"phase"`
			Message    string       `json:"message"`
			StartedAt  metav1.Time  `json:"startedAt"`
			FinishedAt *metav1.Time `json:"finishedAt"`
			SyncResult *struct {
				Revision  string `json:"revision"`
				Resources []struct {
					Group     string `json:"group"`
					Kind      string `json:"kind"`
					Namespace string `json:"namespace"`
					Name      string `json:"name"`
					Status    string `json:"status"`
					Message   string `json:"message"`
					HookType  string `json:"hookType"`
					HookPhase string `json:"hookPhase"`
					SyncPhase string `json:"syncPhase"`
				} `json:"resources"`
			} `json:"syncResult"`
		} `json:"operationState"`
		History []struct {
			ID         int64       `json:"id"`
			Revision   string      `json:"revision"`
			DeployedAt metav1.Time `json:"deployedAt"`
		} `json:"history"`
		Conditions []struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"conditions"`
	} `json:"status"`
}

func (a applicationJSON) toApplication() Application {
	app := Application{
		Name:          a.Metadata.Name,
		Namespace:     a.Metadata.Namespace,
		Sync:          a.Status.Sync.Status,
		SyncRevision:  a.Status.Sync.Revision,
		Health:        a.Status.Health.Status,
		HealthMessage: a.Status.Health.Message,
	}

	if op := a.Status.OperationState; op != nil {
		state := &OperationState{
			Phase:     op.Phase,
			Message:   op.Message,
			StartedAt: op.StartedAt.Time,
		}
		if op.FinishedAt != nil {
			t := op.FinishedAt.Time
			state.FinishedAt = &t
		}
		if sr := op.SyncResult; sr != nil {
			state.Revision = sr.Revision
			for _, r := range sr.Resources {
				state.Resources = append(state.Resources, ResourceResult{
					Group:     r.Group,
					Kind:      r.Kind,
					Namespace: r.Namespace,
					Name:      r.Name,
					Status:    r.Status,
					Message:   r.Message,
					HookType:  r.HookType,
					HookPhase: r.HookPhase,
					SyncPhase: r.SyncPhase,
				})
			}
		}
		app.Operation = state
	}

	for _, h := range a.Status.History {
		app.History = append(app.History, HistoryEntry{ID: h.ID, Revision: h.Revision, DeployedAt: h.DeployedAt.Time})
	}
	for _, c := range a.Status.Conditions {
		app.Conditions = append(app.Conditions, Condition{Type: c.Type, Message: c.Message})
	}
	return app
}
