package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cloo-solutions/docpipe/internal/api"
	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/service"
)

type SearchService interface {
	Search(ctx context.Context, in *service.SearchInput) ([]*domain.SearchMatch, error)
}

type SearchHandler struct {
	svc SearchService
}

func NewSearchHandler(svc SearchService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

type SearchRequest struct {
	Query           string   `json:"query"`
	UserID          int64    `json:"user_id"`
	KnowledgeBaseID int64    `json:"knowledge_base_id"`
	DocumentID      *int64   `json:"document_id,omitempty"`
	Limit           int      `json:"limit,omitempty"`
	ScoreThreshold  *float32 `json:"score_threshold,omitempty"`
}

type SearchResultResponse struct {
	ID          string  `json:"id"`
	Score       float32 `json:"score"`
	Content     string  `json:"content"`
	DocumentID  int64   `json:"document_id"`
	ChunkIndex  int     `json:"chunk_index"`
	TotalChunks int     `json:"total_chunks"`
}

type SearchResponse struct {
	Results []*SearchResultResponse `json:"results"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	matches, err := h.svc.Search(r.Context(), &service.SearchInput{
		Query:           req.Query,
		UserID:          req.UserID,
		KnowledgeBaseID: req.KnowledgeBaseID,
		DocumentID:      req.DocumentID,
		Limit:           req.Limit,
		ScoreThreshold:  req.ScoreThreshold,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := &SearchResponse{Results: make([]*SearchResultResponse, 0, len(matches))}
	for _, m := range matches {
		resp.Results = append(resp.Results, &SearchResultResponse{
			ID:          m.ID.String(),
			Score:       m.Score,
			Content:     m.Content,
			DocumentID:  m.Metadata.DocumentID,
			ChunkIndex:  m.Metadata.ChunkIndex,
			TotalChunks: m.Metadata.TotalChunks,
		})
	}

	api.Success(w, http.StatusOK, resp)
}
