package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/appbridge-ai/appbridge/pkg/oracle"
)

const (
	systemDecide = "You are an integration hub co-pilot. You will take a user's request and output a JSON object adhering to the attached function signature. This function will decide which API endpoint to call."

	systemCall = "You are an integration hub co-pilot. You will take a user's request and output a JSON object adhering to the attached function signature. This function will call the application API and return the requested information."

	systemFormat = "You are a helpful assistant that formats API responses into user-friendly messages."

	systemUnsupported = "You are a helpful assistant that calls third-party application APIs and formats responses into user-friendly messages. In this specific case you are handling requests that are not supported by the API."

	systemSelectApp = "You route a user's request to one of their connected applications by calling the attached function. Only answer in free text when the request concerns none of the applications."

	systemNormalize = "You rewrite user requests into short generic descriptions of the desired API operation. Remove application names and application-specific phrasing but keep every concrete value the user supplied. Answer with the rewritten request only."
)

type selectAppArgs struct {
	Name string `json:"name" jsonschema:"required,description=The name of the connected application that should handle the request."`
}

type chooseEndpointArgs struct {
	Order int `json:"order" jsonschema:"required,description=Out of the list of endpoints provided the order of the correct endpoint. The list starts with 0."`
}

type moreInfoArgs struct {
	Source   string `json:"source" jsonschema:"required,enum=user,enum=documentation,description=Source of the information."`
	Question string `json:"question" jsonschema:"required,description=Ask for the required information."`
}

type callAPIArgs struct {
	Method string         `json:"method" jsonschema:"required,description=The HTTP method to call. Accepts GET POST PUT PATCH DELETE."`
	Path   string         `json:"path" jsonschema:"required,description=The API path. Will be appended to the base API URL. Include path parameters and query parameters where appropriate."`
	Body   map[string]any `json:"body,omitempty" jsonschema:"description=The JSON request body to be sent with the API request. Required for certain endpoints."`
}

type dataPathArgs struct {
	Path string `json:"path" jsonschema:"required,description=Dot-notation path from the response root to the array holding the requested records."`
}

type userFieldsArgs struct {
	UserFields []string `json:"userFields" jsonschema:"required,description=Field names a person reading the records would want to see."`
	LinkFields []string `json:"linkFields,omitempty" jsonschema:"description=Field names holding URLs or external references worth showing."`
}

var (
	selectAppTool = oracle.MustDefineTool[selectAppArgs]("chooseApplication",
		"Select which of the user's connected applications the request concerns.")

	chooseEndpointTool = oracle.MustDefineTool[chooseEndpointArgs]("chooseAPIEndpoint",
		"From the provided endpoints select the relevant API endpoint by calling this function.")

	moreInfoTool = oracle.MustDefineTool[moreInfoArgs]("getMoreInfo",
		"If none of the endpoints are relevant or the request is not clear gets additional information from API documentation or user.")

	callAPITool = oracle.MustDefineTool[callAPIArgs]("callApplicationAPI",
		"Use this function to call the application API.")

	dataPathTool = oracle.MustDefineTool[dataPathArgs]("selectDataPath",
		"Select the path to the requested data within the API response.")

	userFieldsTool = oracle.MustDefineTool[userFieldsArgs]("selectUserFields",
		"Select which fields of a record should be shown to the user.")
)

func decodeArgs(args map[string]any, out any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// selectApp asks the oracle which connected app the request concerns.
// Free text means the request matched none of them.
func (p *Pipeline) selectApp(ctx context.Context, appNames []string, request string) (string, bool, error) {
	prompt := fmt.Sprintf("Connected applications: %s\n\nUser request: %s",
		strings.Join(appNames, ", "), request)

	decision, err := p.oracle.Complete(ctx, systemSelectApp, prompt, []oracle.ToolDefinition{selectAppTool})
	if err != nil {
		return "", false, err
	}
	if !decision.IsCall() {
		return "", false, nil
	}

	var args selectAppArgs
	if err := decodeArgs(decision.Call.Args, &args); err != nil {
		return "", false, fmt.Errorf("bad app selection arguments: %w", err)
	}
	return args.Name, args.Name != "", nil
}

// normalizeRequest rewrites the request without app-specific phrasing
// to improve retrieval across apps with similar endpoints.
func (p *Pipeline) normalizeRequest(ctx context.Context, request string) (string, error) {
	decision, err := p.oracle.Complete(ctx, systemNormalize, request, nil)
	if err != nil {
		return "", err
	}
	if normalized := strings.TrimSpace(decision.Text); normalized != "" {
		return normalized, nil
	}
	return request, nil
}

// endpointChoice is the outcome of endpoint selection: an ordinal, a
// clarification question, or free text when the oracle declined both.
type endpointChoice struct {
	Order    int
	HasOrder bool
	Question string
	Source   string
	Text     string
}

func (p *Pipeline) chooseEndpoint(ctx context.Context, prompt string) (endpointChoice, error) {
	tools := []oracle.ToolDefinition{chooseEndpointTool, moreInfoTool}
	decision, err := p.oracle.Complete(ctx, systemDecide, prompt, tools)
	if err != nil {
		return endpointChoice{}, err
	}

	if !decision.IsCall() {
		return endpointChoice{Text: decision.Text}, nil
	}

	switch decision.Call.Name {
	case chooseEndpointTool.Name:
		var args chooseEndpointArgs
		if err := decodeArgs(decision.Call.Args, &args); err != nil {
			return endpointChoice{}, fmt.Errorf("bad endpoint selection arguments: %w", err)
		}
		return endpointChoice{Order: args.Order, HasOrder: true}, nil

	case moreInfoTool.Name:
		var args moreInfoArgs
		if err := decodeArgs(decision.Call.Args, &args); err != nil {
			return endpointChoice{}, fmt.Errorf("bad clarification arguments: %w", err)
		}
		return endpointChoice{Question: args.Question, Source: args.Source}, nil
	}
	return endpointChoice{Text: decision.Text}, nil
}

// synthesizeCall asks the oracle for the concrete HTTP call.
func (p *Pipeline) synthesizeCall(ctx context.Context, prompt string) (*callAPIArgs, string, error) {
	decision, err := p.oracle.Complete(ctx, systemCall, prompt, []oracle.ToolDefinition{callAPITool})
	if err != nil {
		return nil, "", err
	}
	if !decision.IsCall() {
		return nil, decision.Text, nil
	}

	var args callAPIArgs
	if err := decodeArgs(decision.Call.Args, &args); err != nil {
		return nil, "", fmt.Errorf("bad call arguments: %w", err)
	}
	if args.Method == "" || args.Path == "" {
		return nil, "", fmt.Errorf("call synthesis returned incomplete arguments")
	}
	return &args, "", nil
}

// selectDataPath asks for the dot path to the data array given a
// structural summary of the response.
func (p *Pipeline) selectDataPath(ctx context.Context, keys []KeyType) (string, bool, error) {
	summary, err := json.Marshal(keys)
	if err != nil {
		return "", false, err
	}
	prompt := fmt.Sprintf(
		"An API response has the following top-level keys and types:\n%s\n\nSelect the path to the data the user requested.", summary)

	decision, err := p.oracle.Complete(ctx, systemFormat, prompt, []oracle.ToolDefinition{dataPathTool})
	if err != nil {
		return "", false, err
	}
	if !decision.IsCall() {
		return "", false, nil
	}

	var args dataPathArgs
	if err := decodeArgs(decision.Call.Args, &args); err != nil {
		return "", false, fmt.Errorf("bad data path arguments: %w", err)
	}
	return args.Path, true, nil
}

// classifyFields asks which fields of one record are user-facing and
// which are links.
func (p *Pipeline) classifyFields(ctx context.Context, keys []KeyType) ([]string, []string, error) {
	summary, err := json.Marshal(keys)
	if err != nil {
		return nil, nil, err
	}
	prompt := fmt.Sprintf(
		"Each record in the response has the following fields and types:\n%s\n\nSelect the user-facing fields and any link fields.", summary)

	decision, err := p.oracle.Complete(ctx, systemFormat, prompt, []oracle.ToolDefinition{userFieldsTool})
	if err != nil {
		return nil, nil, err
	}
	if !decision.IsCall() {
		return nil, nil, nil
	}

	var args userFieldsArgs
	if err := decodeArgs(decision.Call.Args, &args); err != nil {
		return nil, nil, fmt.Errorf("bad field selection arguments: %w", err)
	}
	return args.UserFields, args.LinkFields, nil
}

// unsupportedReply has the oracle apologize in context instead of
// sending a canned string.
func (p *Pipeline) unsupportedReply(ctx context.Context, prompt string) (string, error) {
	decision, err := p.oracle.Complete(ctx, systemUnsupported, prompt, nil)
	if err != nil {
		return "", err
	}
	if decision.Text != "" {
		return decision.Text, nil
	}
	return cannotFulfillMessage, nil
}

// summarizeResponse formats an API response as conversational text.
// GET responses with many records are reduced to the first two
// properties of each record before prompting.
func (p *Pipeline) summarizeResponse(ctx context.Context, data any, method string) (string, error) {
	var prompt string

	if strings.EqualFold(method, "GET") {
		records := normalizeRecords(data)
		if len(records) > 1 {
			records = reduceRecords(records)
		}
		rendered, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return "", err
		}
		prompt = fmt.Sprintf(
			"The user has requested to retrieve data. Here is a brief overview of the data retrieved:\n\n%s\n\nHow would you format this response for the user?", rendered)
	} else {
		rendered, err := json.Marshal(data)
		if err != nil {
			return "", err
		}
		prompt = fmt.Sprintf(
			"The user has requested a %s request. Here is the response:\n%s\nHow would you format this response for the user?",
			strings.ToUpper(method), rendered)
	}

	decision, err := p.oracle.Complete(ctx, systemFormat, prompt, nil)
	if err != nil {
		return "", err
	}
	return decision.Text, nil
}

// normalizeRecords coerces a response into a list of records: an
// array as is, an object's "data" array, or the object itself as a
// single record.
func normalizeRecords(data any) []any {
	switch v := data.(type) {
	case []any:
		return v
	case map[string]any:
		if inner, ok := v["data"].([]any); ok {
			return inner
		}
		return []any{v}
	case nil:
		return nil
	}
	return []any{data}
}

// reduceRecords keeps the first two fields of each record, by sorted
// key order, to bound prompt size for large listings.
func reduceRecords(records []any) []any {
	out := make([]any, 0, len(records))
	for _, item := range records {
		record, ok := item.(map[string]any)
		if !ok {
			out = append(out, item)
			continue
		}

		keys := sortedKeys(record)
		reduced := make(map[string]any, 2)
		for i, key := range keys {
			if i == 2 {
				break
			}
			reduced[key] = record[key]
		}
		out = append(out, reduced)
	}
	return out
}
