package apps

import (
	"context"
	"fmt"
	"strconv"

	"github.com/appbridge-ai/appbridge/pkg/storage"
)

// AsanaAdapter reads the platform user id straight from the token
// exchange response.
type AsanaAdapter struct {
	*BaseAdapter
}

func NewAsanaAdapter(deps Deps, app *storage.App) *AsanaAdapter {
	return &AsanaAdapter{BaseAdapter: NewBaseAdapter(deps, app)}
}

func (a *AsanaAdapter) ExternalUserID(ctx context.Context, tokenData map[string]any) (string, error) {
	data, ok := tokenData["data"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("token response has no data object")
	}

	switch id := data["id"].(type) {
	case string:
		return id, nil
	case float64:
		return strconv.FormatInt(int64(id), 10), nil
	}
	return "", fmt.Errorf("token response has no user id")
}
