package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/appbridge-ai/appbridge/pkg/databases"
)

const docSeparator = "\n\n----------------------\n\n"

// buildEndpointSummaries renders the candidate list the oracle picks
// from. Ordinals start at 0 to match the selection tool's contract.
func buildEndpointSummaries(results []databases.SearchResult) string {
	var parts []string
	for i, result := range results {
		path, _ := result.Metadata["path"].(string)
		method, _ := result.Metadata["method"].(string)
		summary, _ := result.Metadata["summary"].(string)
		description, _ := result.Metadata["description"].(string)

		parts = append(parts, fmt.Sprintf(
			"%d.\nPath: %s\nMethod: %s\nSummary: %s\nDescription: %s",
			i, path, strings.ToUpper(method), summary, description))
	}
	return strings.Join(parts, docSeparator)
}

// buildEndpointDoc renders the full documentation for one endpoint,
// flattening schema references against the aggregate specification
// when one is available.
func buildEndpointDoc(path, method string, operation map[string]any, root map[string]any) string {
	var rootAny any
	if root != nil {
		rootAny = any(root)
	}
	if rootAny != nil {
		if resolved, ok := ResolveRefs(operation, rootAny).(map[string]any); ok {
			operation = resolved
		}
	}

	description, _ := operation["description"].(string)
	doc := fmt.Sprintf("Path: %s\nMethod: %s\nDescription: %s\n", path, strings.ToUpper(method), description)

	if params, ok := operation["parameters"].([]any); ok {
		resolved := make([]any, len(params))
		for i, param := range params {
			if rootAny != nil {
				resolved[i] = ResolveRefs(param, rootAny)
			} else {
				resolved[i] = param
			}
		}
		if data, err := json.MarshalIndent(resolved, "", "  "); err == nil {
			doc += fmt.Sprintf("Parameters: %s\n", data)
		}
	}

	if body, ok := operation["requestBody"]; ok {
		if data, err := json.MarshalIndent(body, "", "  "); err == nil {
			doc += fmt.Sprintf("Request Body: %s\n", data)
		}
	}

	return doc
}

// buildAPIPrompt frames the user's request for the oracle, stamped
// with today's date so relative dates in requests resolve correctly.
func buildAPIPrompt(appName, userRequest string, supported bool, apiDocumentation string) string {
	dateStr := time.Now().UTC().Format("2006-01-02")

	if supported {
		return fmt.Sprintf(
			"The following is a user's request to interact with %s on %s:\n\n%s\n\nHere is API documentation you can use to fulfill the user's request:\n\n%s\n",
			appName, dateStr, userRequest, apiDocumentation)
	}
	return fmt.Sprintf(
		"The following is a user's request to interact with %s on %s:\n\n%s\n\nThe request is not supported by the API. Please inform the user. You can also answer their question if it is unrelated to the platform or the API.\n",
		appName, dateStr, userRequest)
}
