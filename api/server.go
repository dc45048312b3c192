// Package api exposes the knowledge base over HTTP: document upload and
// management, retrieval-augmented chat, and conversation contexts.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/quillworks/kbchat/chat"
	"github.com/quillworks/kbchat/contextstore"
	"github.com/quillworks/kbchat/docstore"
	"github.com/quillworks/kbchat/ingestion"
	"github.com/quillworks/kbchat/kberr"
	"github.com/quillworks/kbchat/knowledge"
)

const multipartMemoryLimit = 32 << 20

// Server routes HTTP requests to the ingestion pipeline, the chat service,
// and the stores.
type Server struct {
	pipeline *ingestion.Pipeline
	chat     *chat.Service
	docs     docstore.Store
	contexts *contextstore.Store
	logger   *log.Logger
	handler  http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type documentResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	MimeType    string   `json:"mimeType"`
	SizeBytes   int64    `json:"sizeBytes"`
	Status      string   `json:"status"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ChunkCount  int      `json:"chunkCount"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
}

type chatRequest struct {
	Question       string   `json:"question"`
	ConversationID string   `json:"conversationId"`
	UserID         string   `json:"userId"`
	MaxSources     int      `json:"maxSources"`
	DisableRAG     bool     `json:"disableRag"`
	Temperature    *float32 `json:"temperature,omitempty"`
}

type chatResponse struct {
	Answer         string       `json:"answer"`
	ConversationID string       `json:"conversationId"`
	Sources        []chatSource `json:"sources"`
}

type chatSource struct {
	ChunkID      string      `json:"chunkId"`
	DocumentID   string      `json:"documentId"`
	DocumentName string      `json:"documentName"`
	Content      string      `json:"content"`
	Similarity   float64     `json:"similarity"`
	Insight      chatInsight `json:"insight"`
}

type chatInsight struct {
	ChunkCount int           `json:"chunkCount"`
	Tags       []string      `json:"tags,omitempty"`
	Topics     []string      `json:"topics,omitempty"`
	Related    []chatRelated `json:"related,omitempty"`
}

type chatRelated struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SharedTopics int    `json:"sharedTopics"`
}

type conversationResponse struct {
	ID           string                `json:"id"`
	UserID       string                `json:"userId,omitempty"`
	Title        string                `json:"title"`
	Messages     []conversationMessage `json:"messages,omitempty"`
	MessageCount int                   `json:"messageCount"`
	TokenCount   int                   `json:"tokenCount"`
	UpdatedAt    string                `json:"updatedAt"`
}

type conversationMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// New constructs a Server over already wired services.
func New(
	pipeline *ingestion.Pipeline,
	chatSvc *chat.Service,
	docs docstore.Store,
	contexts *contextstore.Store,
	logger *log.Logger,
) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		pipeline: pipeline,
		chat:     chatSvc,
		docs:     docs,
		contexts: contexts,
		logger:   logger,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/documents", s.handleDocuments)
	mux.HandleFunc("/v1/documents/", s.handleDocumentByID)
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/contexts", s.handleContexts)
	mux.HandleFunc("/v1/contexts/", s.handleContextByID)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	case http.MethodGet:
		s.handleListDocuments(w, r)
	default:
		s.methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}

	upload, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("file field is required: %w", err))
		return
	}
	defer upload.Close()

	data, err := io.ReadAll(upload)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}

	file := ingestion.File{
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Data:     data,
	}
	meta := ingestion.Metadata{
		OwnerID:     strings.TrimSpace(r.FormValue("ownerId")),
		Description: strings.TrimSpace(r.FormValue("description")),
		Tags:        splitTags(r.FormValue("tags")),
	}

	id, err := s.pipeline.Ingest(r.Context(), file, meta)
	if err != nil {
		s.writeError(w, statusForError(err), fmt.Errorf("ingest %s: %w", header.Filename, err))
		return
	}

	doc, err := s.docs.GetDocument(r.Context(), id)
	if err != nil || doc == nil {
		s.writeJSON(w, http.StatusCreated, messageResponse{Message: id.String()})
		return
	}

	s.writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %w", err))
			return
		}
		limit = parsed
	}

	docs, err := s.docs.ListDocuments(r.Context(), r.URL.Query().Get("ownerId"), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("list documents: %w", err))
		return
	}

	out := make([]documentResponse, len(docs))
	for i := range docs {
		out[i] = toDocumentResponse(&docs[i])
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r.URL.Path, "/v1/documents/")
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, err := s.docs.GetDocument(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("load document: %w", err))
			return
		}
		if doc == nil {
			s.writeError(w, http.StatusNotFound, fmt.Errorf("document %s not found", id))
			return
		}
		s.writeJSON(w, http.StatusOK, toDocumentResponse(doc))
	case http.MethodDelete:
		if err := s.pipeline.Remove(r.Context(), id); err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("delete document: %w", err))
			return
		}
		s.writeJSON(w, http.StatusOK, messageResponse{Message: "document deleted"})
	default:
		s.methodNotAllowed(w, "GET, DELETE")
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}

	conversationID := uuid.Nil
	if req.ConversationID != "" {
		parsed, err := uuid.Parse(req.ConversationID)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid conversationId: %w", err))
			return
		}
		conversationID = parsed
	}

	resp, err := s.chat.Chat(r.Context(), req.Question, conversationID, chat.Options{
		UserID:      req.UserID,
		DisableRAG:  req.DisableRAG,
		MaxSources:  req.MaxSources,
		Temperature: req.Temperature,
	})
	if err != nil {
		s.writeError(w, statusForError(err), fmt.Errorf("chat failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, toChatResponse(resp))
}

func (s *Server) handleContexts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %w", err))
			return
		}
		limit = parsed
	}

	conversations, err := s.contexts.GetUserContexts(r.Context(), r.URL.Query().Get("userId"), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("list conversations: %w", err))
		return
	}

	out := make([]conversationResponse, len(conversations))
	for i := range conversations {
		out[i] = toConversationResponse(&conversations[i], false)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleContextByID(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r.URL.Path, "/v1/contexts/")
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		conversation, err := s.contexts.GetContext(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("load conversation: %w", err))
			return
		}
		if conversation == nil {
			s.writeError(w, http.StatusNotFound, fmt.Errorf("conversation %s not found", id))
			return
		}
		s.writeJSON(w, http.StatusOK, toConversationResponse(conversation, true))
	case http.MethodDelete:
		deleted, err := s.contexts.DeleteContext(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("delete conversation: %w", err))
			return
		}
		if !deleted {
			s.writeError(w, http.StatusNotFound, fmt.Errorf("conversation %s not found", id))
			return
		}
		s.writeJSON(w, http.StatusOK, messageResponse{Message: "conversation deleted"})
	default:
		s.methodNotAllowed(w, "GET, DELETE")
	}
}

func (s *Server) parseID(w http.ResponseWriter, path, prefix string) (uuid.UUID, bool) {
	raw := strings.TrimPrefix(path, prefix)
	if raw == "" || strings.Contains(raw, "/") {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return uuid.Nil, false
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid id %q: %w", raw, err))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}

func statusForError(err error) int {
	switch {
	case kberr.IsKind(err, kberr.KindValidation):
		return http.StatusBadRequest
	case kberr.IsKind(err, kberr.KindParse):
		return http.StatusUnprocessableEntity
	case kberr.IsKind(err, kberr.KindConfig):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func toDocumentResponse(doc *docstore.Document) documentResponse {
	return documentResponse{
		ID:          doc.ID.String(),
		Name:        doc.Name,
		MimeType:    doc.MimeType,
		SizeBytes:   doc.SizeBytes,
		Status:      string(doc.Status),
		Description: doc.Description,
		Tags:        append([]string(nil), doc.Tags...),
		ChunkCount:  doc.ChunkCount,
		CreatedAt:   doc.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:   doc.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func toChatResponse(resp chat.Response) chatResponse {
	converted := chatResponse{
		Answer:         resp.Answer,
		ConversationID: resp.ConversationID.String(),
		Sources:        make([]chatSource, len(resp.Sources)),
	}
	for i, src := range resp.Sources {
		converted.Sources[i] = chatSource{
			ChunkID:      src.ChunkID.String(),
			DocumentID:   src.DocumentID.String(),
			DocumentName: src.DocumentName,
			Content:      src.Content,
			Similarity:   src.Similarity,
			Insight:      toChatInsight(src.Insight),
		}
	}
	return converted
}

func toChatInsight(insight knowledge.Insight) chatInsight {
	related := make([]chatRelated, len(insight.Related))
	for i, doc := range insight.Related {
		related[i] = chatRelated{
			ID:           doc.ID,
			Name:         doc.Name,
			SharedTopics: doc.SharedTopics,
		}
	}

	return chatInsight{
		ChunkCount: insight.ChunkCount,
		Tags:       append([]string(nil), insight.Tags...),
		Topics:     append([]string(nil), insight.Topics...),
		Related:    related,
	}
}

func toConversationResponse(conversation *contextstore.ConversationContext, includeMessages bool) conversationResponse {
	resp := conversationResponse{
		ID:           conversation.ID.String(),
		UserID:       conversation.UserID,
		Title:        conversation.Title,
		MessageCount: len(conversation.Messages),
		TokenCount:   conversation.TokenCount,
		UpdatedAt:    conversation.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if includeMessages {
		resp.Messages = make([]conversationMessage, len(conversation.Messages))
		for i, msg := range conversation.Messages {
			resp.Messages[i] = conversationMessage{
				ID:        msg.ID.String(),
				Role:      msg.Role,
				Content:   msg.Content,
				Timestamp: msg.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			}
		}
	}
	return resp
}
