package apps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/appbridge-ai/appbridge/pkg/storage"
)

const (
	jiraResourcesURL = "https://api.atlassian.com/oauth/token/accessible-resources"
	jiraProfileURL   = "https://api.atlassian.com/me"
)

// JiraAdapter resolves the tenant-scoped API base via Atlassian's
// accessible-resources lookup and the user id via /me.
type JiraAdapter struct {
	*BaseAdapter

	resourcesURL string
	profileURL   string
}

func NewJiraAdapter(deps Deps, app *storage.App) *JiraAdapter {
	return &JiraAdapter{
		BaseAdapter:  NewBaseAdapter(deps, app),
		resourcesURL: jiraResourcesURL,
		profileURL:   jiraProfileURL,
	}
}

func (a *JiraAdapter) APIURL(ctx context.Context, conn *storage.Connection) (string, error) {
	var resources []struct {
		ID string `json:"id"`
	}
	if err := a.getJSON(ctx, a.resourcesURL, conn.AccessToken, &resources); err != nil {
		return "", fmt.Errorf("failed to list accessible resources: %w", err)
	}
	if len(resources) == 0 {
		return "", fmt.Errorf("no accessible Jira resources for connection %s", conn.ID)
	}
	return fmt.Sprintf("https://api.atlassian.com/ex/jira/%s", resources[0].ID), nil
}

func (a *JiraAdapter) ExternalUserID(ctx context.Context, tokenData map[string]any) (string, error) {
	accessToken, _ := tokenData["access_token"].(string)
	if accessToken == "" {
		return "", fmt.Errorf("token response has no access token")
	}

	var profile struct {
		AccountID string `json:"account_id"`
	}
	if err := a.getJSON(ctx, a.profileURL, accessToken, &profile); err != nil {
		return "", fmt.Errorf("failed to get Jira profile: %w", err)
	}
	return profile.AccountID, nil
}

func (a *JiraAdapter) getJSON(ctx context.Context, rawURL, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.deps.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request returned status %d", resp.StatusCode)
	}
	return json.Unmarshal(raw, out)
}
