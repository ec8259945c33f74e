//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/docpipe/internal/api/handlers"
	"github.com/cloo-solutions/docpipe/internal/openai"
	"github.com/cloo-solutions/docpipe/internal/repository"
	"github.com/cloo-solutions/docpipe/internal/server"
	"github.com/cloo-solutions/docpipe/internal/service"
	"github.com/cloo-solutions/docpipe/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	testAPIKey     = "dp_e2e_0123456789abcdef"
	stubModel      = "stub-embed"
	stubDimensions = 8
	repairMinAge   = 30 * time.Minute
)

// TestEnv holds all resources needed for end to end tests.
type TestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	EmbedServer  *httptest.Server
	ServerURL    string
	ServerCloser func()
	HTTPClient   *http.Client
}

// SetupEnv starts a pgvector container, a stub embedding endpoint, and the
// HTTP server wired with the real service stack.
func SetupEnv(t *testing.T) *TestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	embedServer := newStubEmbeddingServer()

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, pool, embedServer.URL, port)

	return &TestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		Pool:         pool,
		EmbedServer:  embedServer,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources.
func (e *TestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.EmbedServer != nil {
		e.EmbedServer.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// stubEmbedding maps a text to a deterministic unit vector. Texts sharing a
// topic keyword land on the same axis so that ingested chunks and queries
// about the same topic score close to 1.
func stubEmbedding(text string) []float32 {
	vec := make([]float32, stubDimensions)
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "alpha"):
		vec[0] = 1
	case strings.Contains(lower, "beta"):
		vec[1] = 1
	default:
		sum := sha256.Sum256([]byte(lower))
		var norm float64
		for i := range vec {
			bits := binary.BigEndian.Uint32(sum[i*4 : i*4+4])
			vec[i] = float32(bits%1000) / 1000
			norm += float64(vec[i]) * float64(vec[i])
		}
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

// newStubEmbeddingServer speaks just enough of the OpenAI embeddings API for
// the client adapter.
func newStubEmbeddingServer() *httptest.Server {
	type embeddingData struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	}
	type embeddingResponse struct {
		Object string          `json:"object"`
		Data   []embeddingData `json:"data"`
		Model  string          `json:"model"`
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := embeddingResponse{Object: "list", Model: stubModel}
		for i, text := range req.Input {
			resp.Data = append(resp.Data, embeddingData{
				Object:    "embedding",
				Index:     i,
				Embedding: stubEmbedding(text),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

// startServer wires repositories, the embedding client, and the service into
// an HTTP server listening on the given port.
func startServer(t *testing.T, pool *pgxpool.Pool, embedBaseURL string, port int) (string, func()) {
	embedder, err := openai.NewClientWithConfig(openai.Config{
		APIKey:              "test-key",
		BaseURL:             embedBaseURL,
		EmbeddingModel:      stubModel,
		EmbeddingDimensions: stubDimensions,
	})
	if err != nil {
		t.Fatalf("failed to create embedding client: %v", err)
	}

	chunker := service.NewSemanticChunker(embedder, service.DefaultSemanticChunkConfig())
	vectorStore := repository.NewVectorStore(pool)
	metadataRepo := repository.NewDocumentVectorRepository(pool)

	svc := service.NewVectorizationService(chunker, embedder, vectorStore, metadataRepo, nil, service.VectorizationConfig{
		Collection: repository.CollectionName(embedder.Model(), embedder.Dimensions()),
		Dimensions: embedder.Dimensions(),
		Metric:     service.DistanceCosine,
	})

	router := server.NewRouter(server.RouterConfig{
		APIKey:          testAPIKey,
		DocumentHandler: handlers.NewDocumentHandler(svc),
		SearchHandler:   handlers.NewSearchHandler(svc),
		RepairHandler:   handlers.NewRepairHandler(svc, repairMinAge),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// DoJSON sends an authenticated request with a JSON body and decodes the
// data envelope into out when out is non-nil.
func (e *TestEnv) DoJSON(method, path string, body interface{}, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && resp.StatusCode < 300 {
		envelope := struct {
			Data json.RawMessage `json:"data"`
		}{}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return resp.StatusCode, fmt.Errorf("decode envelope: %w (body %s)", err, raw)
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode data: %w (body %s)", err, raw)
		}
	}
	return resp.StatusCode, nil
}
