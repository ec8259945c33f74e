package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cloo-solutions/docpipe/internal/api"
	"github.com/cloo-solutions/docpipe/internal/service"
)

type RepairService interface {
	Repair(ctx context.Context, minAge time.Duration, limit int) (*service.RepairReport, error)
	RepairDocument(ctx context.Context, documentID, knowledgeBaseID int64) (*service.RepairReport, error)
}

type RepairHandler struct {
	svc    RepairService
	minAge time.Duration
}

func NewRepairHandler(svc RepairService, minAge time.Duration) *RepairHandler {
	return &RepairHandler{svc: svc, minAge: minAge}
}

type RepairRequest struct {
	DocumentID      int64 `json:"document_id,omitempty"`
	KnowledgeBaseID int64 `json:"knowledge_base_id,omitempty"`
	Limit           int   `json:"limit,omitempty"`
}

type RepairResponse struct {
	Checked        int   `json:"checked"`
	OrphansDeleted int64 `json:"orphans_deleted"`
	Demoted        int   `json:"demoted"`
}

// Repair triggers a reconciliation pass. With a document_id and
// knowledge_base_id it repairs that one document; otherwise it sweeps stale
// unvectorized documents.
func (h *RepairHandler) Repair(w http.ResponseWriter, r *http.Request) {
	var req RepairRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var (
		report *service.RepairReport
		err    error
	)
	if req.DocumentID != 0 || req.KnowledgeBaseID != 0 {
		if req.DocumentID <= 0 || req.KnowledgeBaseID <= 0 {
			api.Error(w, http.StatusBadRequest, "document_id and knowledge_base_id must both be positive integers")
			return
		}
		report, err = h.svc.RepairDocument(r.Context(), req.DocumentID, req.KnowledgeBaseID)
	} else {
		limit := req.Limit
		if limit <= 0 {
			limit = 100
		}
		report, err = h.svc.Repair(r.Context(), h.minAge, limit)
	}
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, &RepairResponse{
		Checked:        report.Checked,
		OrphansDeleted: report.OrphansDeleted,
		Demoted:        report.Demoted,
	})
}
