package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloo-solutions/docpipe/internal/api/handlers"
	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) Ingest(ctx context.Context, doc *domain.Document) (*service.IngestResult, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IngestResult), args.Error(1)
}

func (m *MockDocumentService) Delete(ctx context.Context, documentID, knowledgeBaseID int64) (*service.DeleteResult, error) {
	args := m.Called(ctx, documentID, knowledgeBaseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DeleteResult), args.Error(1)
}

func (m *MockDocumentService) Status(ctx context.Context, documentID, knowledgeBaseID int64) (*domain.DocumentVectorMetadata, error) {
	args := m.Called(ctx, documentID, knowledgeBaseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DocumentVectorMetadata), args.Error(1)
}

func (m *MockDocumentService) ArchivedContent(ctx context.Context, documentID, knowledgeBaseID int64) ([]byte, error) {
	args := m.Called(ctx, documentID, knowledgeBaseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockDocumentService) ListByKnowledgeBase(ctx context.Context, knowledgeBaseID int64, cursor string, limit int) (*service.MetadataPage, error) {
	args := m.Called(ctx, knowledgeBaseID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.MetadataPage), args.Error(1)
}

func (m *MockDocumentService) ListByUser(ctx context.Context, userID int64, cursor string, limit int) (*service.MetadataPage, error) {
	args := m.Called(ctx, userID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.MetadataPage), args.Error(1)
}

type MockSearchService struct {
	mock.Mock
}

func (m *MockSearchService) Search(ctx context.Context, in *service.SearchInput) ([]*domain.SearchMatch, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SearchMatch), args.Error(1)
}

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

const testAPIKey = "dp_0123456789abcdef0123456789abcdef"

func setupRouter(apiKey string) (http.Handler, *MockDocumentService, *MockSearchService, *MockRepairService) {
	docSvc := new(MockDocumentService)
	searchSvc := new(MockSearchService)
	repairSvc := new(MockRepairService)

	router := NewRouter(RouterConfig{
		APIKey:          apiKey,
		DocumentHandler: handlers.NewDocumentHandler(docSvc),
		SearchHandler:   handlers.NewSearchHandler(searchSvc),
		RepairHandler:   handlers.NewRepairHandler(repairSvc, 30*time.Minute),
	})

	return router, docSvc, searchSvc, repairSvc
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router, _, _, _ := setupRouter(testAPIKey)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
}

func TestRouter_AuthenticatedRoutes_RequireAuth(t *testing.T) {
	router, _, _, _ := setupRouter(testAPIKey)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/documents"},
		{http.MethodGet, "/documents"},
		{http.MethodGet, "/documents/123/status"},
		{http.MethodGet, "/documents/123/archive"},
		{http.MethodDelete, "/documents/123"},
		{http.MethodPost, "/search"},
		{http.MethodPost, "/repair"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			req := httptest.NewRequest(route.method, route.path, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRouter_AuthenticatedRoutes_WithValidAuth(t *testing.T) {
	router, _, _, repairSvc := setupRouter(testAPIKey)

	repairSvc.On("Repair", mock.Anything, 30*time.Minute, 100).
		Return(&service.RepairReport{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/repair", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	repairSvc.AssertExpectations(t)
}

func TestRouter_EmptyKeyDisablesAuth(t *testing.T) {
	router, _, _, repairSvc := setupRouter("")

	repairSvc.On("Repair", mock.Anything, 30*time.Minute, 100).
		Return(&service.RepairReport{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/repair", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	repairSvc.AssertExpectations(t)
}
