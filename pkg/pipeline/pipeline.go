// Package pipeline turns a free-text user request into an
// authenticated API call against one of the user's connected
// applications and shapes the response for display.
//
// Stages: app selection, request normalization, vector retrieval,
// endpoint selection, call synthesis, invocation, response shaping.
// Every oracle decision point accepts free text as a valid "no
// decision" outcome; domain-expected failures (unsupported request,
// no data) are states, not errors.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/appbridge-ai/appbridge/pkg/apps"
	"github.com/appbridge-ai/appbridge/pkg/config"
	"github.com/appbridge-ai/appbridge/pkg/oracle"
	"github.com/appbridge-ai/appbridge/pkg/storage"
)

const (
	// RelevancyThreshold is the minimum similarity score of the top
	// retrieval match for a request to be considered supported.
	RelevancyThreshold = 0.70

	// SearchTopK is the candidate count for per-app endpoint search.
	SearchTopK = 4

	// LegacyTopK is the narrower candidate count used when only one
	// application is connected and app selection is skipped.
	LegacyTopK = 2
)

const (
	cannotFulfillMessage = "I am sorry, I cannot help with this request right now. Is there anything else I can help you with?"
	noDataMessage        = "I called the application but no data was available for your request."
	notConnectedMessage  = "You have not connected that application yet. Connect it first and I can help with this request."
)

// Terminal states of one fulfillment pass.
const (
	StateFulfilled     = storage.RequestStateFulfilled
	StateUnsupported   = storage.RequestStateUnsupported
	StateClarification = storage.RequestStateClarification
	StateFailed        = storage.RequestStateFailed
)

// Input is one chat turn to fulfill.
type Input struct {
	UserID         string
	ConversationID string
	Message        string

	// ConnectedApps are the applications the user has connected, the
	// candidate set for app selection.
	ConnectedApps []*storage.App

	// Prior, when set to a clarification-state request, resumes that
	// request with Message as the user's answer: app selection is
	// skipped and retrieval re-runs over the combined text.
	Prior *storage.Request
}

// Result is the outcome of one fulfillment pass.
type Result struct {
	State string

	// Reply is the conversational text for the user.
	Reply string

	// Display is the reduced, user-facing slice of the data.
	Display any

	// Raw is the full decoded response data.
	Raw any

	RequestID string
}

// Pipeline orchestrates one request's fulfillment.
type Pipeline struct {
	oracle   oracle.Provider
	registry *apps.Registry
	store    *storage.Store
	timeout  time.Duration
}

func New(provider oracle.Provider, registry *apps.Registry, store *storage.Store, cfg config.PipelineConfig) *Pipeline {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Pipeline{
		oracle:   provider,
		registry: registry,
		store:    store,
		timeout:  timeout,
	}
}

// Fulfill runs the full pipeline for one user message under a
// deadline. Unsupported requests and clarification questions are
// ordinary results; only infrastructure failures return an error.
func (p *Pipeline) Fulfill(ctx context.Context, input Input) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	app, searchText, resumed, err := p.selectStage(ctx, input)
	if err != nil {
		return nil, err
	}
	if app == nil {
		reply, err := p.unsupportedReply(ctx, buildAPIPrompt("your connected applications", input.Message, false, ""))
		if err != nil {
			return nil, err
		}
		return &Result{State: StateUnsupported, Reply: reply}, nil
	}

	conn, err := p.store.GetConnectionByUserAndApp(ctx, input.UserID, app.ID)
	if err == storage.ErrNotFound {
		return &Result{State: StateUnsupported, Reply: notConnectedMessage}, nil
	}
	if err != nil {
		return nil, err
	}

	normalized := searchText
	if !resumed {
		normalized, err = p.normalizeRequest(ctx, searchText)
		if err != nil {
			return nil, err
		}
		slog.Debug("request normalized", "original", searchText, "normalized", normalized)
	}

	topK := SearchTopK
	if len(input.ConnectedApps) == 1 {
		topK = LegacyTopK
	}

	adapter := p.registry.Get(app)
	results, err := adapter.SearchAPI(ctx, normalized, topK)
	if err != nil {
		return nil, fmt.Errorf("endpoint search failed: %w", err)
	}

	if len(results) == 0 || results[0].Score < RelevancyThreshold {
		var score float32
		if len(results) > 0 {
			score = results[0].Score
		}
		slog.Info("request below relevancy threshold",
			"app", app.SystemName,
			"score", score)

		reply, err := p.unsupportedReply(ctx, buildAPIPrompt(app.Name, input.Message, false, ""))
		if err != nil {
			return nil, err
		}
		return &Result{State: StateUnsupported, Reply: reply}, nil
	}

	req, err := p.ensureRequest(ctx, input, app)
	if err != nil {
		return nil, err
	}

	choice, err := p.chooseEndpoint(ctx, buildAPIPrompt(app.Name, input.Message, true, buildEndpointSummaries(results)))
	if err != nil {
		return nil, err
	}

	switch {
	case choice.Question != "":
		req.State = StateClarification
		if err := p.store.UpdateRequest(ctx, req); err != nil {
			return nil, err
		}
		return &Result{State: StateClarification, Reply: choice.Question, RequestID: req.ID}, nil

	case !choice.HasOrder:
		reply := choice.Text
		if reply == "" {
			reply = cannotFulfillMessage
		}
		req.State = StateUnsupported
		if err := p.store.UpdateRequest(ctx, req); err != nil {
			return nil, err
		}
		return &Result{State: StateUnsupported, Reply: reply, RequestID: req.ID}, nil
	}

	if choice.Order < 0 || choice.Order >= len(results) {
		return nil, fmt.Errorf("endpoint selection out of range: %d of %d", choice.Order, len(results))
	}
	chosen := results[choice.Order]

	docString, entry, err := p.buildDocString(ctx, adapter, chosen.ID, chosen.Metadata)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		req.DocumentationID = entry.ID
		req.Tasks = entry.Next
	}
	req.DocString = docString

	call, freeText, err := p.synthesizeCall(ctx, buildAPIPrompt(app.Name, input.Message, true, docString))
	if err != nil {
		return nil, err
	}
	if call == nil {
		reply := freeText
		if reply == "" {
			reply = cannotFulfillMessage
		}
		req.State = StateUnsupported
		if err := p.store.UpdateRequest(ctx, req); err != nil {
			return nil, err
		}
		return &Result{State: StateUnsupported, Reply: reply, RequestID: req.ID}, nil
	}

	req.Endpoint = fmt.Sprintf("%s %s", strings.ToUpper(call.Method), call.Path)
	if call.Body != nil {
		if payload, err := json.Marshal(call.Body); err == nil {
			req.RequestPayload = payload
		}
	}

	var body any
	if call.Body != nil {
		body = call.Body
	}
	apiResult, err := adapter.Call(ctx, conn, call.Method, call.Path, body)
	if err != nil {
		slog.Warn("invocation failed",
			"app", app.SystemName,
			"endpoint", req.Endpoint,
			"error", err)
		req.State = StateFailed
		if uerr := p.store.UpdateRequest(ctx, req); uerr != nil {
			return nil, uerr
		}
		return &Result{State: StateFailed, Reply: noDataMessage, RequestID: req.ID}, nil
	}

	req.StatusCode = apiResult.StatusCode
	req.ResponsePayload = apiResult.Raw

	result, err := p.shapeResponse(ctx, call.Method, apiResult.Data)
	if err != nil {
		return nil, err
	}
	result.RequestID = req.ID

	req.State = result.State
	if result.Display != nil {
		if payload, err := json.Marshal(map[string]any{"data": result.Raw, "userData": result.Display}); err == nil {
			req.ResponsePayload = payload
		}
	}
	if err := p.store.UpdateRequest(ctx, req); err != nil {
		return nil, err
	}
	return result, nil
}

// selectStage resolves which app handles the turn and what text to
// search with. A clarification resume skips app selection and appends
// the answer to the original request; a single connected app skips the
// oracle call outright.
func (p *Pipeline) selectStage(ctx context.Context, input Input) (*storage.App, string, bool, error) {
	if input.Prior != nil && input.Prior.State == storage.RequestStateClarification && input.Prior.AppID != "" {
		app, err := p.store.GetApp(ctx, input.Prior.AppID)
		if err != nil {
			return nil, "", false, err
		}
		combined := strings.TrimSpace(input.Prior.UserRequest + "\n" + input.Message)
		return app, combined, true, nil
	}

	if len(input.ConnectedApps) == 0 {
		return nil, "", false, nil
	}
	if len(input.ConnectedApps) == 1 {
		return input.ConnectedApps[0], input.Message, false, nil
	}

	names := make([]string, len(input.ConnectedApps))
	for i, app := range input.ConnectedApps {
		names[i] = app.Name
	}

	name, ok, err := p.selectApp(ctx, names, input.Message)
	if err != nil {
		return nil, "", false, err
	}
	if !ok {
		return nil, "", false, nil
	}

	for _, app := range input.ConnectedApps {
		if strings.EqualFold(app.Name, name) {
			return app, input.Message, false, nil
		}
	}
	slog.Info("oracle selected unknown application", "name", name)
	return nil, "", false, nil
}

// ensureRequest creates the persistent record for this turn, or
// reuses the clarification record being resumed.
func (p *Pipeline) ensureRequest(ctx context.Context, input Input, app *storage.App) (*storage.Request, error) {
	if input.Prior != nil && input.Prior.State == storage.RequestStateClarification {
		req := input.Prior
		req.UserRequest = strings.TrimSpace(req.UserRequest + "\n" + input.Message)
		return req, nil
	}

	req := &storage.Request{
		ConversationID: input.ConversationID,
		UserID:         input.UserID,
		AppID:          app.ID,
		UserRequest:    input.Message,
	}
	if err := p.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// buildDocString composes the full endpoint documentation for call
// synthesis: the stored specification when available, resolved
// against the aggregate document, else the vector metadata alone.
func (p *Pipeline) buildDocString(ctx context.Context, adapter apps.Adapter, vecID string, metadata map[string]any) (string, *storage.DocumentationEntry, error) {
	path, _ := metadata["path"].(string)
	method, _ := metadata["method"].(string)

	entry, err := p.store.GetDocumentationByVecID(ctx, vecID)
	if err == storage.ErrNotFound {
		description, _ := metadata["description"].(string)
		return fmt.Sprintf("Path: %s\nMethod: %s\nDescription: %s\n", path, strings.ToUpper(method), description), nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	var operation map[string]any
	if len(entry.Specification) > 0 {
		if err := json.Unmarshal(entry.Specification, &operation); err != nil {
			return "", nil, fmt.Errorf("bad stored specification for %s: %w", vecID, err)
		}
	}

	var root map[string]any
	if full, err := adapter.LoadDocumentation(ctx); err == nil && len(full) > 0 {
		if err := json.Unmarshal(full, &root); err != nil {
			slog.Warn("failed to parse aggregate specification", "error", err)
		}
	}

	return buildEndpointDoc(entry.Path, entry.Method, operation, root), entry, nil
}

// shapeResponse reduces a successful response for display. GET
// responses go through the two-step path-then-fields selection; other
// methods are summarized textually.
func (p *Pipeline) shapeResponse(ctx context.Context, method string, data any) (*Result, error) {
	if data == nil {
		return &Result{State: StateFulfilled, Reply: noDataMessage}, nil
	}

	if !strings.EqualFold(method, "GET") {
		reply, err := p.summarizeResponse(ctx, data, method)
		if err != nil {
			return nil, err
		}
		return &Result{State: StateFulfilled, Reply: reply, Raw: data}, nil
	}

	keys := extractKeysAndTypes(data)
	if keys == nil {
		// Not an object; fall back to a textual summary.
		reply, err := p.summarizeResponse(ctx, data, method)
		if err != nil {
			return nil, err
		}
		return &Result{State: StateFulfilled, Reply: reply, Raw: data}, nil
	}

	path, ok, err := p.selectDataPath(ctx, keys)
	if err != nil {
		return nil, err
	}
	if !ok {
		reply, err := p.summarizeResponse(ctx, data, method)
		if err != nil {
			return nil, err
		}
		return &Result{State: StateFulfilled, Reply: reply, Raw: data}, nil
	}

	records, ok := valueAtPath(data, path).([]any)
	if !ok || len(records) == 0 {
		return &Result{State: StateFulfilled, Reply: noDataMessage, Raw: data}, nil
	}

	userFields, linkFields, err := p.classifyFields(ctx, extractKeysAndTypes(records[0]))
	if err != nil {
		return nil, err
	}
	if len(userFields) == 0 {
		reply, err := p.summarizeResponse(ctx, records, method)
		if err != nil {
			return nil, err
		}
		return &Result{State: StateFulfilled, Reply: reply, Raw: records}, nil
	}

	display := sliceUserData(records, userFields, linkFields)
	return &Result{
		State:   StateFulfilled,
		Reply:   "Here is the data you requested:",
		Display: display,
		Raw:     records,
	}, nil
}
