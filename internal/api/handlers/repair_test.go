package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloo-solutions/docpipe/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRepairService struct {
	mock.Mock
}

func (m *MockRepairService) Repair(ctx context.Context, minAge time.Duration, limit int) (*service.RepairReport, error) {
	args := m.Called(ctx, minAge, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RepairReport), args.Error(1)
}

func (m *MockRepairService) RepairDocument(ctx context.Context, documentID, knowledgeBaseID int64) (*service.RepairReport, error) {
	args := m.Called(ctx, documentID, knowledgeBaseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RepairReport), args.Error(1)
}

func TestRepairHandler_Sweep_EmptyBody(t *testing.T) {
	svc := new(MockRepairService)
	h := NewRepairHandler(svc, 30*time.Minute)

	svc.On("Repair", mock.Anything, 30*time.Minute, 100).
		Return(&service.RepairReport{Checked: 3, OrphansDeleted: 5, Demoted: 1}, nil)

	req := httptest.NewRequest(http.MethodPost, "/repair", nil)
	rec := httptest.NewRecorder()

	h.Repair(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data RepairResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.Checked)
	assert.Equal(t, int64(5), resp.Data.OrphansDeleted)
	assert.Equal(t, 1, resp.Data.Demoted)
	svc.AssertExpectations(t)
}

func TestRepairHandler_Sweep_CustomLimit(t *testing.T) {
	svc := new(MockRepairService)
	h := NewRepairHandler(svc, 30*time.Minute)

	svc.On("Repair", mock.Anything, 30*time.Minute, 25).
		Return(&service.RepairReport{}, nil)

	body, _ := json.Marshal(RepairRequest{Limit: 25})
	req := httptest.NewRequest(http.MethodPost, "/repair", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Repair(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestRepairHandler_SingleDocument(t *testing.T) {
	svc := new(MockRepairService)
	h := NewRepairHandler(svc, 30*time.Minute)

	svc.On("RepairDocument", mock.Anything, int64(9), int64(4)).
		Return(&service.RepairReport{Checked: 1, Demoted: 1}, nil)

	body, _ := json.Marshal(RepairRequest{DocumentID: 9, KnowledgeBaseID: 4})
	req := httptest.NewRequest(http.MethodPost, "/repair", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Repair(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data RepairResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.Checked)
	svc.AssertNotCalled(t, "Repair")
}

func TestRepairHandler_PartialScope(t *testing.T) {
	svc := new(MockRepairService)
	h := NewRepairHandler(svc, 30*time.Minute)

	body, _ := json.Marshal(RepairRequest{DocumentID: 9})
	req := httptest.NewRequest(http.MethodPost, "/repair", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Repair(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "RepairDocument")
	svc.AssertNotCalled(t, "Repair")
}
