package apps

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/appbridge-ai/appbridge/pkg/storage"
)

// refreshTimeout bounds a detached token refresh exchange.
const refreshTimeout = 30 * time.Second

// BaseAdapter implements the generic OAuth2 + OpenAPI integration.
// Named variants embed it and override the platform-specific parts.
type BaseAdapter struct {
	app  *storage.App
	deps Deps

	// refresh coalesces concurrent token refreshes per connection id.
	refresh singleflight.Group
}

func NewBaseAdapter(deps Deps, app *storage.App) *BaseAdapter {
	return &BaseAdapter{app: app, deps: deps}
}

func (a *BaseAdapter) App() *storage.App {
	return a.app
}

func (a *BaseAdapter) redirectURI() string {
	return fmt.Sprintf("%s/api/oauth/%s", strings.TrimRight(a.deps.CallbackBaseURL, "/"), a.app.ID)
}

// AuthURL builds the authorization URL. An input flagged forAuth
// replaces the host while the path of the app's base auth URL is kept;
// "scopes" and "queryParameters" inputs extend the query string.
func (a *BaseAdapter) AuthURL(userInputs map[string]storage.UserInput, userID string) (string, error) {
	base, err := url.Parse(a.app.AuthURL)
	if err != nil {
		return "", fmt.Errorf("invalid auth url %q: %w", a.app.AuthURL, err)
	}

	domain := base
	for _, in := range userInputs {
		if !in.ForAuth {
			continue
		}
		if s, ok := in.Value.(string); ok && s != "" {
			parsed, err := parseDomainInput(s)
			if err != nil {
				return "", err
			}
			domain = parsed
		}
	}

	authURL := *domain
	authURL.Path = base.Path
	q := url.Values{}
	q.Set("client_id", a.app.ClientID)
	q.Set("redirect_uri", a.redirectURI())
	q.Set("response_type", "code")
	q.Set("state", userID)

	if scopes := stringSliceInput(userInputs, "scopes"); len(scopes) > 0 {
		q.Set("scope", strings.Join(scopes, " "))
	}
	for name, value := range pairInput(userInputs, "queryParameters") {
		q.Set(name, value)
	}

	authURL.RawQuery = q.Encode()
	return authURL.String(), nil
}

// AccessURL resolves the token exchange URL, substituting the host
// from an input flagged forAccess while keeping the base path.
func (a *BaseAdapter) AccessURL(userInputs map[string]storage.UserInput) (string, error) {
	base, err := url.Parse(a.app.AccessTokenURL)
	if err != nil {
		return "", fmt.Errorf("invalid access token url %q: %w", a.app.AccessTokenURL, err)
	}

	resolved := *base
	for _, in := range userInputs {
		if !in.ForAccess {
			continue
		}
		if s, ok := in.Value.(string); ok && s != "" {
			parsed, err := parseDomainInput(s)
			if err != nil {
				return "", err
			}
			resolved = *parsed
			resolved.Path = base.Path
		}
	}
	return resolved.String(), nil
}

// parseDomainInput parses a user-supplied instance domain. A bare
// domain without a scheme parses as a path-only URL, which would
// silently drop the host, so anything short of an absolute URL is
// rejected.
func parseDomainInput(s string) (*url.URL, error) {
	parsed, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid domain input %q: %w", s, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("domain input %q must be an absolute URL including the scheme", s)
	}
	return parsed, nil
}

// DomainURL returns the user's instance domain (forAccess input)
// without a trailing slash, or "" when absent.
func (a *BaseAdapter) DomainURL(userInputs map[string]storage.UserInput) string {
	for _, in := range userInputs {
		if !in.ForAccess {
			continue
		}
		if s, ok := in.Value.(string); ok && s != "" {
			return strings.TrimRight(s, "/")
		}
	}
	return ""
}

// APIURL defaults to the app-level base; variants discover the tenant.
func (a *BaseAdapter) APIURL(ctx context.Context, conn *storage.Connection) (string, error) {
	return a.app.APIURL, nil
}

// ExternalUserID is unknown for the generic adapter.
func (a *BaseAdapter) ExternalUserID(ctx context.Context, tokenData map[string]any) (string, error) {
	return "", nil
}

func (a *BaseAdapter) Call(ctx context.Context, conn *storage.Connection, method, path string, body any) (*CallResult, error) {
	return a.call(ctx, conn, method, path, body, false)
}

func (a *BaseAdapter) call(ctx context.Context, conn *storage.Connection, method, path string, body any, retried bool) (*CallResult, error) {
	base := conn.APIURL
	if base == "" {
		base = a.app.APIURL
	}
	callURL := base + path

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), callURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+conn.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	slog.Debug("calling app API",
		"app", a.app.SystemName,
		"method", req.Method,
		"url", callURL,
		"retried", retried)

	resp, err := a.deps.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized && !retried {
		slog.Info("access token rejected, refreshing",
			"app", a.app.SystemName,
			"connection", conn.ID)

		refreshed, err := a.RefreshAuth(ctx, conn)
		if err != nil {
			slog.Warn("token refresh failed",
				"app", a.app.SystemName,
				"connection", conn.ID,
				"error", err)
			return &CallResult{StatusCode: resp.StatusCode, Raw: raw}, nil
		}
		return a.call(ctx, refreshed, method, path, body, true)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("app API call failed",
			"app", a.app.SystemName,
			"method", req.Method,
			"url", callURL,
			"status", resp.StatusCode)
		return &CallResult{StatusCode: resp.StatusCode, Raw: raw}, nil
	}

	result := &CallResult{StatusCode: resp.StatusCode, Raw: raw}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result.Data); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return result, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (a *BaseAdapter) RefreshAuth(ctx context.Context, conn *storage.Connection) (*storage.Connection, error) {
	v, err, _ := a.refresh.Do(conn.ID, func() (any, error) {
		// The exchange is shared by every coalesced caller, so it must
		// not die with whichever request happened to start it.
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return a.doRefresh(refreshCtx, conn.ID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*storage.Connection), nil
}

func (a *BaseAdapter) doRefresh(ctx context.Context, connID string) (*storage.Connection, error) {
	// Reload so we exchange the most recently persisted refresh token.
	conn, err := a.deps.Store.GetConnection(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}

	postURL, err := a.AccessURL(conn.UserInputs)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", conn.RefreshToken)
	form.Set("client_id", a.app.ClientID)
	form.Set("client_secret", a.app.ClientSecret)
	form.Set("redirect_uri", a.redirectURI())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.deps.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token refresh returned status %d: %s", resp.StatusCode, string(raw))
	}

	var tokens tokenResponse
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("token refresh returned no access token")
	}

	newRefresh := tokens.RefreshToken
	if newRefresh == "" {
		// Some platforms do not rotate the refresh token.
		newRefresh = conn.RefreshToken
	}

	var expiresAt *time.Time
	if tokens.ExpiresIn > 0 {
		t := time.Now().UTC().Add(time.Duration(tokens.ExpiresIn) * time.Second)
		expiresAt = &t
	}

	err = a.deps.Store.UpdateTokens(ctx, conn.ID, conn.RefreshToken, tokens.AccessToken, newRefresh, expiresAt)
	if errors.Is(err, storage.ErrTokenConflict) {
		// A concurrent refresh already rotated the pair; use it.
		return a.deps.Store.GetConnection(ctx, conn.ID)
	}
	if err != nil {
		return nil, err
	}

	conn.AccessToken = tokens.AccessToken
	conn.RefreshToken = newRefresh
	conn.ExpiresAt = expiresAt
	return conn, nil
}

func stringSliceInput(userInputs map[string]storage.UserInput, name string) []string {
	in, ok := userInputs[name]
	if !ok {
		return nil
	}

	switch v := in.Value.(type) {
	case []string:
		return v
	case string:
		return []string{v}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func pairInput(userInputs map[string]storage.UserInput, name string) map[string]string {
	in, ok := userInputs[name]
	if !ok {
		return nil
	}
	items, ok := in.Value.([]any)
	if !ok {
		return nil
	}

	pairs := make(map[string]string)
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key, _ := m["name"].(string)
		value, _ := m["value"].(string)
		if key != "" {
			pairs[key] = value
		}
	}
	return pairs
}
