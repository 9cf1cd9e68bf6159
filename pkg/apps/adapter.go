// Package apps provides per-application adapters: OAuth URL building,
// authenticated API calls with one refresh-and-retry on 401, and
// endpoint documentation sync into the vector index.
package apps

import (
	"context"
	"encoding/json"

	"github.com/appbridge-ai/appbridge/pkg/databases"
	"github.com/appbridge-ai/appbridge/pkg/embedders"
	"github.com/appbridge-ai/appbridge/pkg/httpclient"
	"github.com/appbridge-ai/appbridge/pkg/storage"
)

// Adapter is the per-application integration surface. BaseAdapter
// covers the generic OAuth2 + OpenAPI case; named variants override
// the calls their platform does differently.
type Adapter interface {
	// App returns the application record the adapter was built for.
	App() *storage.App

	// AuthURL builds the user-facing authorization URL, honoring
	// per-user inputs (instance domain, scopes, extra query params).
	AuthURL(userInputs map[string]storage.UserInput, userID string) (string, error)

	// AccessURL resolves the token exchange URL, substituting the
	// user's domain when an input is flagged forAccess.
	AccessURL(userInputs map[string]storage.UserInput) (string, error)

	// DomainURL returns the user's instance domain without a trailing
	// slash, or "" when no input carries one.
	DomainURL(userInputs map[string]storage.UserInput) string

	// APIURL resolves the API base URL for a connection. Variants may
	// call the platform to discover the tenant.
	APIURL(ctx context.Context, conn *storage.Connection) (string, error)

	// ExternalUserID extracts the platform-side user id from a token
	// exchange response.
	ExternalUserID(ctx context.Context, tokenData map[string]any) (string, error)

	// Call performs an authenticated API request. On 401 it refreshes
	// the token pair and retries exactly once, returning the retried
	// result. Non-2xx outcomes carry a nil Data with the status code.
	Call(ctx context.Context, conn *storage.Connection, method, path string, body any) (*CallResult, error)

	// RefreshAuth exchanges the refresh token for a new pair and
	// persists it. Concurrent callers for the same connection share
	// one exchange.
	RefreshAuth(ctx context.Context, conn *storage.Connection) (*storage.Connection, error)

	// CreateDocumentation fetches the app's API specification and
	// indexes one vector per path and method, plus an aggregate entry.
	CreateDocumentation(ctx context.Context, conn *storage.Connection) error

	// UpdateDocumentation re-embeds one entry with its bot overrides
	// applied and updates the vector in place.
	UpdateDocumentation(ctx context.Context, doc *storage.DocumentationEntry) error

	// LoadDocumentation returns the aggregate specification.
	LoadDocumentation(ctx context.Context) (json.RawMessage, error)

	// SearchAPI finds the endpoints most similar to the query text,
	// scoped to this app.
	SearchAPI(ctx context.Context, query string, topK int) ([]databases.SearchResult, error)
}

// CallResult is the outcome of one API call. Data is the decoded JSON
// body on success and nil on failure; Raw preserves the exact bytes.
type CallResult struct {
	StatusCode int
	Data       any
	Raw        json.RawMessage
}

// Succeeded reports whether the call returned a 2xx status.
func (r *CallResult) Succeeded() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Deps carries the shared collaborators adapters are built with.
type Deps struct {
	Store      *storage.Store
	Embedder   embedders.Provider
	Vectors    databases.Provider
	Collection string
	HTTP       *httpclient.Client

	// CallbackBaseURL is the externally reachable base used for OAuth
	// redirect URIs.
	CallbackBaseURL string
}
