// Package storage persists applications, user connections, endpoint
// documentation records, and conversation history in a relational
// database (postgres, mysql, or sqlite).
package storage

import (
	"encoding/json"
	"time"
)

// Documentation entry types. An "api" entry describes a single
// path+method endpoint; the "full" entry aggregates the whole
// specification for prompt-building fallback.
const (
	DocTypeAPI  = "api"
	DocTypeFull = "full"
)

// FormField describes one input the connect form collects from the
// user for an application. The flags control where the collected value
// is injected: the authorization URL, the token exchange, or API calls.
type FormField struct {
	Name      string `json:"name"`
	Label     string `json:"label,omitempty"`
	Type      string `json:"type,omitempty"`
	ForAuth   bool   `json:"forAuth,omitempty"`
	ForAccess bool   `json:"forAccess,omitempty"`
	ForAPI    bool   `json:"forApi,omitempty"`
}

// App is a connectable third-party application.
type App struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SystemName string `json:"system_name"`

	AuthType     string `json:"auth_type,omitempty"`
	AuthFlowType string `json:"auth_flow_type,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"-"`

	AuthURL          string `json:"auth_url,omitempty"`
	AccessTokenURL   string `json:"access_token_url,omitempty"`
	APIURL           string `json:"api_url,omitempty"`
	DocumentationURL string `json:"documentation_url,omitempty"`

	LogoURL string `json:"logo_url,omitempty"`
	Website string `json:"website,omitempty"`

	FormFields []FormField `json:"form_fields,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserInput is one value the user supplied on the connect form,
// tagged with where it applies.
type UserInput struct {
	Value     any  `json:"value"`
	ForAuth   bool `json:"forAuth,omitempty"`
	ForAccess bool `json:"forAccess,omitempty"`
	ForAPI    bool `json:"forApi,omitempty"`
}

// Connection links a user to an application, carrying the OAuth token
// pair and any per-user values (instance domain, scopes, query params).
type Connection struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	AppID  string `json:"app_id"`

	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`

	// APIURL overrides the app-level API base when the tenant is
	// resolved per user (Jira cloud id, Salesforce instance domain).
	APIURL         string `json:"api_url,omitempty"`
	ExternalUserID string `json:"external_user_id,omitempty"`

	UserInputs map[string]UserInput `json:"user_inputs,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StringInput returns the string value of a named user input, or "".
func (c *Connection) StringInput(name string) string {
	in, ok := c.UserInputs[name]
	if !ok {
		return ""
	}
	s, _ := in.Value.(string)
	return s
}

// DocumentationEntry is one indexed endpoint description. VecID keys
// the corresponding vector in the vector index; bot overrides replace
// the document-derived summary/description in the embedded text when set.
type DocumentationEntry struct {
	ID    string `json:"id"`
	VecID string `json:"vec_id"`
	AppID string `json:"app_id"`
	Type  string `json:"type"`

	Path   string `json:"path,omitempty"`
	Method string `json:"method,omitempty"`

	Summary        string `json:"summary,omitempty"`
	BotSummary     string `json:"bot_summary,omitempty"`
	Description    string `json:"description,omitempty"`
	BotDescription string `json:"bot_description,omitempty"`
	BotEnabled     bool   `json:"bot_enabled,omitempty"`

	// Specification is the full operation object from the source
	// document, kept verbatim for call synthesis prompts.
	Specification json.RawMessage `json:"specification,omitempty"`

	// Next holds follow-up task hints attached to the endpoint.
	Next json.RawMessage `json:"next,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Conversation groups the messages of one chat thread.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id,omitempty"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	SequenceNum    int64     `json:"sequence_num"`
	CreatedAt      time.Time `json:"created_at"`
}

// Request fulfillment states persisted with the record.
const (
	RequestStateClarification = "clarification"
	RequestStateFulfilled     = "fulfilled"
	RequestStateUnsupported   = "unsupported"
	RequestStateFailed        = "failed"
)

// Request records one fulfillment attempt: the user's text, the chosen
// endpoint documentation, the synthesized call, and the outcome. A
// clarification record lets a follow-up turn resume with the answer.
type Request struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	AppID          string `json:"app_id,omitempty"`

	UserRequest     string `json:"user_request"`
	DocumentationID string `json:"documentation_id,omitempty"`
	DocString       string `json:"doc_string,omitempty"`

	Endpoint        string          `json:"endpoint,omitempty"`
	RequestPayload  json.RawMessage `json:"request_payload,omitempty"`
	ResponsePayload json.RawMessage `json:"response_payload,omitempty"`
	StatusCode      int             `json:"status_code,omitempty"`

	// Tasks carries the endpoint's follow-up hints for the next turn.
	Tasks json.RawMessage `json:"tasks,omitempty"`

	State string `json:"state,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
