package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/appbridge-ai/appbridge/pkg/pipeline"
	"github.com/appbridge-ai/appbridge/pkg/storage"
)

type chatRequest struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message"`
}

type chatResponse struct {
	ConversationID string `json:"conversationId"`
	State          string `json:"state"`
	Reply          string `json:"reply"`
	Data           any    `json:"data,omitempty"`
	RequestID      string `json:"requestId,omitempty"`
}

// handleChat runs one fulfillment turn: persist the user's message,
// run the pipeline over the user's connected applications, persist the
// reply. A pending clarification on the conversation is resumed with
// this message as the answer.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" || req.Message == "" {
		respondError(w, http.StatusBadRequest, "userId and message are required")
		return
	}
	ctx := r.Context()

	conversationID := req.ConversationID
	if conversationID == "" {
		conv := &storage.Conversation{UserID: req.UserID}
		if err := s.store.CreateConversation(ctx, conv); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to create conversation")
			return
		}
		conversationID = conv.ID
	} else if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		respondError(w, http.StatusNotFound, "conversation not found")
		return
	}

	if err := s.store.AppendMessage(ctx, &storage.Message{
		ConversationID: conversationID,
		UserID:         req.UserID,
		Role:           "user",
		Content:        req.Message,
	}); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to persist message")
		return
	}

	connected, err := s.connectedApps(r, req.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load connected applications")
		return
	}

	var prior *storage.Request
	if latest, err := s.store.LatestRequest(ctx, conversationID); err == nil &&
		latest.State == storage.RequestStateClarification {
		prior = latest
	}

	result, err := s.pipeline.Fulfill(ctx, pipeline.Input{
		UserID:         req.UserID,
		ConversationID: conversationID,
		Message:        req.Message,
		ConnectedApps:  connected,
		Prior:          prior,
	})
	if err != nil {
		slog.Error("fulfillment failed", "conversation", conversationID, "error", err)
		respondError(w, http.StatusInternalServerError, "fulfillment failed")
		return
	}

	if err := s.store.AppendMessage(ctx, &storage.Message{
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        result.Reply,
	}); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to persist reply")
		return
	}

	respondJSON(w, http.StatusOK, chatResponse{
		ConversationID: conversationID,
		State:          result.State,
		Reply:          result.Reply,
		Data:           result.Display,
		RequestID:      result.RequestID,
	})
}

func (s *Server) connectedApps(r *http.Request, userID string) ([]*storage.App, error) {
	conns, err := s.store.ListConnectionsByUser(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	apps := make([]*storage.App, 0, len(conns))
	for _, conn := range conns {
		app, err := s.store.GetApp(r.Context(), conn.AppID)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, nil
}

type connectRequest struct {
	UserID     string                       `json:"userId"`
	UserInputs map[string]storage.UserInput `json:"userInputs,omitempty"`
}

// handleConnect stores the user's connect-form inputs and returns the
// authorization URL to send them to. The connection row it upserts is
// completed later by the token exchange.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")

	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "userId is required")
		return
	}
	ctx := r.Context()

	app, err := s.store.GetApp(ctx, appID)
	if err == storage.ErrNotFound {
		respondError(w, http.StatusNotFound, "application not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load application")
		return
	}

	adapter := s.registry.Get(app)
	authURL, err := adapter.AuthURL(req.UserInputs, req.UserID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := s.store.GetConnectionByUserAndApp(ctx, req.UserID, appID)
	switch {
	case err == storage.ErrNotFound:
		conn = &storage.Connection{
			UserID:     req.UserID,
			AppID:      appID,
			UserInputs: req.UserInputs,
		}
		err = s.store.CreateConnection(ctx, conn)
	case err == nil:
		conn.UserInputs = req.UserInputs
		err = s.store.UpdateConnection(ctx, conn)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save connection")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"authUrl":      authURL,
		"connectionId": conn.ID,
	})
}

func (s *Server) handleGetUserApp(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	conn, err := s.store.GetConnectionByUserAndApp(r.Context(), userID, appID)
	if err == storage.ErrNotFound {
		respondError(w, http.StatusNotFound, "connection not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load connection")
		return
	}
	respondJSON(w, http.StatusOK, conn)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	conn, err := s.store.GetConnectionByUserAndApp(r.Context(), userID, appID)
	if err == storage.ErrNotFound {
		respondError(w, http.StatusNotFound, "connection not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load connection")
		return
	}

	if err := s.store.DeleteConnection(r.Context(), conn.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete connection")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

type syncDocumentationRequest struct {
	UserID string `json:"userId,omitempty"`
}

// handleSyncDocumentation re-fetches the application's API
// specification and rebuilds its vector index entries.
func (s *Server) handleSyncDocumentation(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")

	var req syncDocumentationRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	ctx := r.Context()

	app, err := s.store.GetApp(ctx, appID)
	if err == storage.ErrNotFound {
		respondError(w, http.StatusNotFound, "application not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load application")
		return
	}

	// Platforms that generate specifications per tenant need an
	// authenticated connection; a static documentation URL does not.
	var conn *storage.Connection
	if req.UserID != "" {
		conn, err = s.store.GetConnectionByUserAndApp(ctx, req.UserID, appID)
		if err != nil && err != storage.ErrNotFound {
			respondError(w, http.StatusInternalServerError, "failed to load connection")
			return
		}
	}

	adapter := s.registry.Get(app)
	if err := adapter.CreateDocumentation(ctx, conn); err != nil {
		slog.Error("documentation sync failed", "app", app.SystemName, "error", err)
		respondError(w, http.StatusBadGateway, "documentation sync failed")
		return
	}

	entries, err := s.store.ListDocumentationByApp(ctx, appID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list documentation")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"indexed": len(entries)})
}

type editDocumentationRequest struct {
	BotSummary     string `json:"botSummary,omitempty"`
	BotDescription string `json:"botDescription,omitempty"`
}

// handleEditDocumentation applies curator overrides to one endpoint's
// summary and description and re-embeds it in place.
func (s *Server) handleEditDocumentation(w http.ResponseWriter, r *http.Request) {
	vecID := chi.URLParam(r, "vecID")

	var req editDocumentationRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()

	doc, err := s.store.GetDocumentationByVecID(ctx, vecID)
	if err == storage.ErrNotFound {
		respondError(w, http.StatusNotFound, "documentation entry not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load documentation")
		return
	}

	app, err := s.store.GetApp(ctx, doc.AppID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load application")
		return
	}

	doc.BotSummary = req.BotSummary
	doc.BotDescription = req.BotDescription
	doc.BotEnabled = req.BotSummary != "" || req.BotDescription != ""

	adapter := s.registry.Get(app)
	if err := adapter.UpdateDocumentation(ctx, doc); err != nil {
		slog.Error("documentation update failed", "vec_id", vecID, "error", err)
		respondError(w, http.StatusInternalServerError, "documentation update failed")
		return
	}
	respondJSON(w, http.StatusOK, doc)
}
