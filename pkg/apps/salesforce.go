package apps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/appbridge-ai/appbridge/pkg/storage"
)

const salesforceAPIVersion = "v58.0"

// SalesforceAdapter derives the API base from the user's instance
// domain and generates documentation through the platform's async
// OAS3 specification endpoint instead of a static URL.
type SalesforceAdapter struct {
	*BaseAdapter
}

func NewSalesforceAdapter(deps Deps, app *storage.App) *SalesforceAdapter {
	return &SalesforceAdapter{BaseAdapter: NewBaseAdapter(deps, app)}
}

func (a *SalesforceAdapter) APIURL(ctx context.Context, conn *storage.Connection) (string, error) {
	domain := a.DomainURL(conn.UserInputs)
	if domain == "" {
		return "", fmt.Errorf("connection %s has no instance domain", conn.ID)
	}
	return fmt.Sprintf("%s/services/data/%s", domain, salesforceAPIVersion), nil
}

// CreateDocumentation asks the org to generate an OAS3 document for
// all resources, downloads it, and indexes it like any other spec.
func (a *SalesforceAdapter) CreateDocumentation(ctx context.Context, conn *storage.Connection) error {
	if conn == nil {
		return fmt.Errorf("salesforce documentation requires an authenticated connection")
	}
	domain := a.DomainURL(conn.UserInputs)
	if domain == "" {
		return fmt.Errorf("connection %s has no instance domain", conn.ID)
	}

	specsURL := fmt.Sprintf("%s/services/data/%s/async/specifications/oas3", domain, salesforceAPIVersion)
	payload, err := json.Marshal(map[string]any{"resources": []string{"*"}})
	if err != nil {
		return err
	}

	var job struct {
		Href string `json:"href"`
	}
	if err := a.doJSON(ctx, http.MethodPost, specsURL, conn.AccessToken, payload, &job); err != nil {
		return fmt.Errorf("failed to request specification generation: %w", err)
	}
	if job.Href == "" {
		return fmt.Errorf("specification job returned no href")
	}

	var spec map[string]any
	docURL := fmt.Sprintf("%s/services/data%s", domain, job.Href)
	if err := a.doJSON(ctx, http.MethodGet, docURL, conn.AccessToken, nil, &spec); err != nil {
		return fmt.Errorf("failed to download specification: %w", err)
	}

	return a.indexSpecification(ctx, spec)
}

func (a *SalesforceAdapter) doJSON(ctx context.Context, method, rawURL, accessToken string, body []byte, out any) error {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.deps.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request returned status %d: %s", resp.StatusCode, string(raw))
	}
	return json.Unmarshal(raw, out)
}
