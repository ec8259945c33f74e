package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cloo-solutions/docpipe/internal/api"
	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/service"
	"github.com/go-chi/chi/v5"
)

type DocumentService interface {
	Ingest(ctx context.Context, doc *domain.Document) (*service.IngestResult, error)
	Delete(ctx context.Context, documentID, knowledgeBaseID int64) (*service.DeleteResult, error)
	Status(ctx context.Context, documentID, knowledgeBaseID int64) (*domain.DocumentVectorMetadata, error)
	ArchivedContent(ctx context.Context, documentID, knowledgeBaseID int64) ([]byte, error)
	ListByKnowledgeBase(ctx context.Context, knowledgeBaseID int64, cursor string, limit int) (*service.MetadataPage, error)
	ListByUser(ctx context.Context, userID int64, cursor string, limit int) (*service.MetadataPage, error)
}

type DocumentHandler struct {
	svc DocumentService
}

func NewDocumentHandler(svc DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

type IngestRequest struct {
	Content         string `json:"content"`
	UserID          int64  `json:"user_id"`
	KnowledgeBaseID int64  `json:"knowledge_base_id"`
	DocumentID      int64  `json:"document_id"`
}

type IngestResponse struct {
	DocumentID      int64  `json:"document_id"`
	KnowledgeBaseID int64  `json:"knowledge_base_id"`
	VectorCount     int    `json:"vector_count"`
	Strategy        string `json:"strategy"`
}

type DeleteResponse struct {
	DocumentID      int64 `json:"document_id"`
	KnowledgeBaseID int64 `json:"knowledge_base_id"`
	VectorsRemoved  int64 `json:"vectors_removed"`
	MetadataDeleted bool  `json:"metadata_deleted"`
}

type DocumentStatusResponse struct {
	DocumentID      int64  `json:"document_id"`
	KnowledgeBaseID int64  `json:"knowledge_base_id"`
	UserID          int64  `json:"user_id"`
	VectorCount     int    `json:"vector_count"`
	IsVectorized    bool   `json:"is_vectorized"`
	VectorizedAt    string `json:"vectorized_at,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type DocumentListResponse struct {
	Documents  []*DocumentStatusResponse `json:"documents"`
	NextCursor string                    `json:"next_cursor,omitempty"`
	HasMore    bool                      `json:"has_more"`
}

func metadataToResponse(m *domain.DocumentVectorMetadata) *DocumentStatusResponse {
	resp := &DocumentStatusResponse{
		DocumentID:      m.DocumentID,
		KnowledgeBaseID: m.KnowledgeBaseID,
		UserID:          m.UserID,
		VectorCount:     m.VectorCount,
		IsVectorized:    m.IsVectorized,
		CreatedAt:       m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       m.UpdatedAt.Format(time.RFC3339),
	}
	if m.VectorizedAt != nil {
		resp.VectorizedAt = m.VectorizedAt.Format(time.RFC3339)
	}
	return resp
}

func (h *DocumentHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc := &domain.Document{
		Content:         req.Content,
		UserID:          req.UserID,
		KnowledgeBaseID: req.KnowledgeBaseID,
		DocumentID:      req.DocumentID,
	}

	result, err := h.svc.Ingest(r.Context(), doc)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, &IngestResponse{
		DocumentID:      req.DocumentID,
		KnowledgeBaseID: req.KnowledgeBaseID,
		VectorCount:     result.VectorCount,
		Strategy:        string(result.Strategy),
	})
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	documentID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	knowledgeBaseID, ok := queryID(w, r, "knowledge_base_id")
	if !ok {
		return
	}

	result, err := h.svc.Delete(r.Context(), documentID, knowledgeBaseID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, &DeleteResponse{
		DocumentID:      documentID,
		KnowledgeBaseID: knowledgeBaseID,
		VectorsRemoved:  result.VectorsRemoved,
		MetadataDeleted: result.MetadataDeleted,
	})
}

func (h *DocumentHandler) Status(w http.ResponseWriter, r *http.Request) {
	documentID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	knowledgeBaseID, ok := queryID(w, r, "knowledge_base_id")
	if !ok {
		return
	}

	meta, err := h.svc.Status(r.Context(), documentID, knowledgeBaseID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, metadataToResponse(meta))
}

type DocumentArchiveResponse struct {
	DocumentID      int64  `json:"document_id"`
	KnowledgeBaseID int64  `json:"knowledge_base_id"`
	Content         string `json:"content"`
}

func (h *DocumentHandler) Archive(w http.ResponseWriter, r *http.Request) {
	documentID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	knowledgeBaseID, ok := queryID(w, r, "knowledge_base_id")
	if !ok {
		return
	}

	content, err := h.svc.ArchivedContent(r.Context(), documentID, knowledgeBaseID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, &DocumentArchiveResponse{
		DocumentID:      documentID,
		KnowledgeBaseID: knowledgeBaseID,
		Content:         string(content),
	})
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	var (
		page *service.MetadataPage
		err  error
	)
	switch {
	case r.URL.Query().Get("knowledge_base_id") != "":
		kbID, ok := queryID(w, r, "knowledge_base_id")
		if !ok {
			return
		}
		page, err = h.svc.ListByKnowledgeBase(r.Context(), kbID, cursor, limit)
	case r.URL.Query().Get("user_id") != "":
		userID, ok := queryID(w, r, "user_id")
		if !ok {
			return
		}
		page, err = h.svc.ListByUser(r.Context(), userID, cursor, limit)
	default:
		api.Error(w, http.StatusBadRequest, "knowledge_base_id or user_id is required")
		return
	}
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := &DocumentListResponse{
		Documents:  make([]*DocumentStatusResponse, 0, len(page.Items)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for _, m := range page.Items {
		resp.Documents = append(resp.Documents, metadataToResponse(m))
	}

	api.Success(w, http.StatusOK, resp)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		api.Error(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		api.Error(w, http.StatusBadRequest, name+" is required")
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		api.Error(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
