package apps

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appbridge-ai/appbridge/pkg/storage"
)

func TestAuthURL_DefaultsAndUserInputs(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	app := &storage.App{
		ID:       "app-1",
		Name:     "Jira",
		ClientID: "client-123",
		AuthURL:  "https://auth.atlassian.com/authorize",
	}
	adapter := NewBaseAdapter(deps, app)

	raw, err := adapter.AuthURL(map[string]storage.UserInput{
		"scopes": {Value: []any{"read:jira-work", "offline_access"}},
		"queryParameters": {Value: []any{
			map[string]any{"name": "audience", "value": "api.atlassian.com"},
		}},
	}, "user-1")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "auth.atlassian.com", parsed.Host)
	assert.Equal(t, "/authorize", parsed.Path)

	q := parsed.Query()
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "https://hub.example.com/api/oauth/app-1", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "user-1", q.Get("state"))
	assert.Equal(t, "read:jira-work offline_access", q.Get("scope"))
	assert.Equal(t, "api.atlassian.com", q.Get("audience"))
}

func TestAuthURL_DomainOverrideKeepsBasePath(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	app := &storage.App{
		ID:       "app-1",
		ClientID: "client-123",
		AuthURL:  "https://login.salesforce.com/services/oauth2/authorize",
	}
	adapter := NewBaseAdapter(deps, app)

	raw, err := adapter.AuthURL(map[string]storage.UserInput{
		"domain": {Value: "https://acme.my.salesforce.com", ForAuth: true},
	}, "user-1")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "acme.my.salesforce.com", parsed.Host)
	assert.Equal(t, "/services/oauth2/authorize", parsed.Path)
}

func TestAuthURL_RejectsSchemelessDomain(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	app := &storage.App{
		ID:             "app-1",
		ClientID:       "client-123",
		AuthURL:        "https://login.salesforce.com/services/oauth2/authorize",
		AccessTokenURL: "https://login.salesforce.com/services/oauth2/token",
	}
	adapter := NewBaseAdapter(deps, app)

	// A bare domain parses as a path-only URL; it must be rejected
	// instead of producing a host-less authorization URL.
	_, err := adapter.AuthURL(map[string]storage.UserInput{
		"domain": {Value: "acme.my.salesforce.com", ForAuth: true},
	}, "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acme.my.salesforce.com")

	_, err = adapter.AccessURL(map[string]storage.UserInput{
		"domain": {Value: "acme.my.salesforce.com", ForAccess: true},
	})
	require.Error(t, err)

	_, err = adapter.AccessURL(map[string]storage.UserInput{
		"domain": {Value: "//acme.my.salesforce.com", ForAccess: true},
	})
	require.Error(t, err)
}

func TestAccessURL_DomainSubstitution(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	app := &storage.App{
		AccessTokenURL: "https://login.salesforce.com/services/oauth2/token",
	}
	adapter := NewBaseAdapter(deps, app)

	got, err := adapter.AccessURL(map[string]storage.UserInput{
		"domain": {Value: "https://acme.my.salesforce.com", ForAccess: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://acme.my.salesforce.com/services/oauth2/token", got)

	// Without a forAccess input the app-level URL is used as is.
	got, err = adapter.AccessURL(nil)
	require.NoError(t, err)
	assert.Equal(t, "https://login.salesforce.com/services/oauth2/token", got)
}

func TestDomainURL_StripsTrailingSlash(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	adapter := NewBaseAdapter(deps, &storage.App{})

	got := adapter.DomainURL(map[string]storage.UserInput{
		"domain": {Value: "https://acme.my.salesforce.com/", ForAccess: true},
	})
	assert.Equal(t, "https://acme.my.salesforce.com", got)

	assert.Empty(t, adapter.DomainURL(nil))
}

func TestCall_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "/rest/api/3/search", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"issues":[{"key":"PROJ-1"}]}`))
	}))
	defer server.Close()

	deps, _, _ := newTestDeps(t)
	adapter := NewBaseAdapter(deps, &storage.App{SystemName: "jira"})
	conn := &storage.Connection{APIURL: server.URL, AccessToken: "token-1"}

	result, err := adapter.Call(context.Background(), conn, "GET", "/rest/api/3/search", nil)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, http.StatusOK, result.StatusCode)

	data, ok := result.Data.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data, "issues")
}

func TestCall_NonAuthFailureReturnsNilData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}))
	defer server.Close()

	deps, _, _ := newTestDeps(t)
	adapter := NewBaseAdapter(deps, &storage.App{SystemName: "jira"})
	conn := &storage.Connection{APIURL: server.URL, AccessToken: "token-1"}

	result, err := adapter.Call(context.Background(), conn, "GET", "/nope", nil)
	require.NoError(t, err)
	assert.False(t, result.Succeeded())
	assert.Equal(t, http.StatusNotFound, result.StatusCode)
	assert.Nil(t, result.Data)
}

// A 401 triggers one token refresh and a retry whose result reaches
// the caller.
func TestCall_RefreshAndRetryOn401(t *testing.T) {
	var exchanges int64

	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&exchanges, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "refresh-old", r.Form.Get("refresh_token"))

		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "token-new",
			"refresh_token": "refresh-new",
			"expires_in":    3600,
		})
	}))
	defer tokens.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer api.Close()

	deps, _, _ := newTestDeps(t)
	app := &storage.App{
		ID:             "app-1",
		SystemName:     "jira",
		ClientID:       "client",
		ClientSecret:   "secret",
		AccessTokenURL: tokens.URL,
	}
	adapter := NewBaseAdapter(deps, app)

	conn := &storage.Connection{
		UserID:       "user-1",
		AppID:        "app-1",
		AccessToken:  "token-old",
		RefreshToken: "refresh-old",
		APIURL:       api.URL,
	}
	require.NoError(t, deps.Store.CreateConnection(context.Background(), conn))

	result, err := adapter.Call(context.Background(), conn, "GET", "/anything", nil)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.JSONEq(t, `{"ok":true}`, string(result.Raw))
	assert.Equal(t, int64(1), atomic.LoadInt64(&exchanges))

	// The rotated pair is persisted.
	stored, err := deps.Store.GetConnection(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "token-new", stored.AccessToken)
	assert.Equal(t, "refresh-new", stored.RefreshToken)
}

// A second 401 after the refresh must not loop.
func TestCall_RetriesOnlyOnce(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "still-bad"})
	}))
	defer tokens.Close()

	var calls int64
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	deps, _, _ := newTestDeps(t)
	adapter := NewBaseAdapter(deps, &storage.App{
		ID: "app-1", SystemName: "jira", AccessTokenURL: tokens.URL,
	})

	conn := &storage.Connection{
		UserID: "user-1", AppID: "app-1",
		AccessToken: "bad", RefreshToken: "refresh", APIURL: api.URL,
	}
	require.NoError(t, deps.Store.CreateConnection(context.Background(), conn))

	result, err := adapter.Call(context.Background(), conn, "GET", "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, result.StatusCode)
	assert.Nil(t, result.Data)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

// Concurrent 401s on the same connection share one token exchange.
func TestRefreshAuth_Coalesces(t *testing.T) {
	var exchanges int64
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&exchanges, 1)
		time.Sleep(100 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "token-new",
			"refresh_token": "refresh-new",
		})
	}))
	defer tokens.Close()

	deps, _, _ := newTestDeps(t)
	adapter := NewBaseAdapter(deps, &storage.App{
		ID: "app-1", SystemName: "jira", AccessTokenURL: tokens.URL,
	})

	conn := &storage.Connection{
		UserID: "user-1", AppID: "app-1",
		AccessToken: "old", RefreshToken: "refresh-old",
	}
	require.NoError(t, deps.Store.CreateConnection(context.Background(), conn))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			refreshed, err := adapter.RefreshAuth(context.Background(), conn)
			assert.NoError(t, err)
			assert.Equal(t, "token-new", refreshed.AccessToken)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&exchanges))
}

func TestRefreshAuth_SurvivesCanceledCaller(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "token-new",
			"refresh_token": "refresh-new",
		})
	}))
	defer tokens.Close()

	deps, _, _ := newTestDeps(t)
	adapter := NewBaseAdapter(deps, &storage.App{
		ID: "app-1", SystemName: "jira", AccessTokenURL: tokens.URL,
	})

	conn := &storage.Connection{
		UserID: "user-1", AppID: "app-1",
		AccessToken: "old", RefreshToken: "refresh-old",
	}
	require.NoError(t, deps.Store.CreateConnection(context.Background(), conn))

	// The initiating request being canceled must not poison the
	// exchange shared with other coalesced callers.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	refreshed, err := adapter.RefreshAuth(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, "token-new", refreshed.AccessToken)
	assert.Equal(t, "refresh-new", refreshed.RefreshToken)

	stored, err := deps.Store.GetConnection(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "token-new", stored.AccessToken)
}
