package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/pagination"
	"github.com/cloo-solutions/docpipe/internal/telemetry"
)

// DistanceMetric selects the similarity operator used by a vector
// collection's index and queries.
type DistanceMetric string

const (
	DistanceCosine       DistanceMetric = "cosine"
	DistanceL2           DistanceMetric = "l2"
	DistanceInnerProduct DistanceMetric = "ip"
)

// SearchFilter scopes a similarity search. UserID and KnowledgeBaseID are
// always required; DocumentID optionally narrows to a single document.
type SearchFilter struct {
	UserID          int64
	KnowledgeBaseID int64
	DocumentID      *int64
}

// MetadataPage is one page of document vector metadata with cursor
// pagination state.
type MetadataPage struct {
	Items      []*domain.DocumentVectorMetadata
	NextCursor string
	HasMore    bool
}

// VectorStore defines the interface for vector collection persistence
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dimensions int, metric DistanceMetric) error
	Upsert(ctx context.Context, collection string, points []*domain.VectorPoint) error
	Search(ctx context.Context, collection string, vector []float32, filter SearchFilter, limit int, scoreThreshold float32) ([]*domain.SearchMatch, error)
	DeleteByDocument(ctx context.Context, collection string, documentID, knowledgeBaseID int64) (int64, error)
	CountByDocument(ctx context.Context, collection string, documentID, knowledgeBaseID int64) (int64, error)
}

// MetadataRepository defines the interface for relational vectorization
// state
type MetadataRepository interface {
	Upsert(ctx context.Context, m *domain.DocumentVectorMetadata) error
	MarkVectorized(ctx context.Context, documentID, knowledgeBaseID int64, vectorCount int) error
	MarkUnvectorized(ctx context.Context, documentID, knowledgeBaseID int64) error
	Delete(ctx context.Context, documentID, knowledgeBaseID int64) error
	GetByDocument(ctx context.Context, documentID, knowledgeBaseID int64) (*domain.DocumentVectorMetadata, error)
	ListVectorizedByKnowledgeBase(ctx context.Context, knowledgeBaseID int64, cursor *pagination.Cursor, limit int) (*MetadataPage, error)
	ListVectorizedByUser(ctx context.Context, userID int64, cursor *pagination.Cursor, limit int) (*MetadataPage, error)
	ListStaleUnvectorized(ctx context.Context, olderThan time.Time, limit int) ([]*domain.DocumentVectorMetadata, error)
	ListVectorizedMissingVectors(ctx context.Context, collection string, olderThan time.Time, limit int) ([]*domain.DocumentVectorMetadata, error)
}

// DocumentChunker splits document content into chunk texts.
type DocumentChunker interface {
	Chunk(ctx context.Context, content string) ([]string, domain.ChunkStrategy)
}

// DocumentArchiver stores original document content in object storage.
type DocumentArchiver interface {
	ArchiveDocument(ctx context.Context, key string, content []byte) error
	GetDocument(ctx context.Context, key string) ([]byte, error)
	DeleteDocument(ctx context.Context, key string) error
}

const (
	// DefaultSearchLimit caps result count when the caller does not set one.
	DefaultSearchLimit = 10
	// DefaultScoreThreshold drops weakly related matches.
	DefaultScoreThreshold = 0.5
	// chunkWarnChars flags chunks likely to degrade embedding quality.
	chunkWarnChars = 8000
)

// IngestResult reports the outcome of a completed ingestion.
type IngestResult struct {
	VectorCount int
	Strategy    domain.ChunkStrategy
}

// DeleteResult reports what a delete actually removed from each store.
type DeleteResult struct {
	VectorsRemoved  int64
	MetadataDeleted bool
}

// SearchInput carries a similarity search request.
type SearchInput struct {
	Query           string
	UserID          int64
	KnowledgeBaseID int64
	DocumentID      *int64
	Limit           int
	ScoreThreshold  *float32
}

// RepairReport summarizes one reconciliation pass.
type RepairReport struct {
	Checked        int
	OrphansDeleted int64
	Demoted        int
}

// VectorizationConfig configures a VectorizationService.
type VectorizationConfig struct {
	// Collection is the vector collection name, namespaced by embedding
	// model and dimension.
	Collection string
	Dimensions int
	Metric     DistanceMetric
}

// VectorizationService orchestrates chunking, embedding, and the two
// persistence layers. The vector collection and the metadata table have no
// shared transaction; the service owns the write ordering that keeps them
// convergent.
type VectorizationService struct {
	chunker  DocumentChunker
	embedder EmbeddingClient
	vectors  VectorStore
	metadata MetadataRepository
	archiver DocumentArchiver
	cfg      VectorizationConfig

	// docLocks serializes ingest and delete per (document, knowledge base)
	// so concurrent writers cannot interleave the multi-store sequence.
	docLocks *keyedMutex
}

func NewVectorizationService(
	chunker DocumentChunker,
	embedder EmbeddingClient,
	vectors VectorStore,
	metadata MetadataRepository,
	archiver DocumentArchiver,
	cfg VectorizationConfig,
) *VectorizationService {
	if cfg.Metric == "" {
		cfg.Metric = DistanceCosine
	}
	return &VectorizationService{
		chunker:  chunker,
		embedder: embedder,
		vectors:  vectors,
		metadata: metadata,
		archiver: archiver,
		cfg:      cfg,
		docLocks: newKeyedMutex(),
	}
}

func documentKey(documentID, knowledgeBaseID int64) string {
	return fmt.Sprintf("%d:%d", documentID, knowledgeBaseID)
}

func archiveKey(userID, knowledgeBaseID, documentID int64) string {
	return fmt.Sprintf("user/%d/kb/%d/doc/%d", userID, knowledgeBaseID, documentID)
}

// Ingest vectorizes a document. Re-ingesting an existing document replaces
// its vectors completely. Each store write is a commit point; on failure the
// metadata row stays unvectorized and a later Ingest or Repair converges the
// stores.
func (s *VectorizationService) Ingest(ctx context.Context, doc *domain.Document) (*IngestResult, error) {
	if err := domain.ValidateDocument(doc); err != nil {
		return nil, err
	}

	unlock := s.docLocks.Lock(documentKey(doc.DocumentID, doc.KnowledgeBaseID))
	defer unlock()

	ctx, span := telemetry.StartSpan(ctx, "document.ingest", telemetry.SpanAttributes{
		UserID:          doc.UserID,
		KnowledgeBaseID: doc.KnowledgeBaseID,
		DocumentID:      doc.DocumentID,
		Operation:       "ingest",
	})
	defer span.End()

	// Reset the metadata row first so a partial failure leaves the document
	// visibly unvectorized rather than claiming stale vectors.
	meta := &domain.DocumentVectorMetadata{
		DocumentID:      doc.DocumentID,
		KnowledgeBaseID: doc.KnowledgeBaseID,
		UserID:          doc.UserID,
	}
	if err := s.metadata.Upsert(ctx, meta); err != nil {
		span.SetError(err)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeMetadataStore, "failed to upsert document metadata", err)
	}

	// Best effort removal of previous vectors. A failure here is logged and
	// ingestion continues; the per point upsert below overwrites matching
	// IDs and Repair handles leftovers.
	if removed, err := s.vectors.DeleteByDocument(ctx, s.cfg.Collection, doc.DocumentID, doc.KnowledgeBaseID); err != nil {
		log.Printf("failed to delete existing vectors for document %d: %v", doc.DocumentID, err)
		telemetry.CaptureError(ctx, err)
	} else if removed > 0 {
		telemetry.AddBreadcrumb(ctx, "vectorize", fmt.Sprintf("removed %d existing vectors before re-ingest", removed))
	}

	texts, strategy := s.chunker.Chunk(ctx, doc.Content)
	if len(texts) == 0 {
		err := domain.NewDomainError(domain.ErrCodeInternalError, "chunking produced no chunks")
		span.SetError(err)
		return nil, err
	}

	for i, t := range texts {
		if len(t) > chunkWarnChars {
			log.Printf("chunk %d of document %d is %d chars, may exceed embedding model limits", i, doc.DocumentID, len(t))
		}
	}

	embeddings, err := s.embedder.GetEmbeddings(ctx, texts)
	if err != nil {
		span.SetError(err)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeEmbedding, "failed to generate embeddings", err)
	}
	if err := validateEmbeddings(texts, embeddings, s.cfg.Dimensions); err != nil {
		span.SetError(err)
		return nil, err
	}

	now := time.Now().UTC()
	points := make([]*domain.VectorPoint, len(texts))
	for i, t := range texts {
		points[i] = &domain.VectorPoint{
			ID:      domain.PointID(doc.DocumentID, i),
			Vector:  embeddings[i],
			Content: t,
			Metadata: domain.ChunkMetadata{
				DocumentID:      doc.DocumentID,
				KnowledgeBaseID: doc.KnowledgeBaseID,
				UserID:          doc.UserID,
				ChunkIndex:      i,
				TotalChunks:     len(texts),
				OriginalContent: t,
			},
			CreatedAt: now,
		}
	}

	if err := s.vectors.EnsureCollection(ctx, s.cfg.Collection, s.cfg.Dimensions, s.cfg.Metric); err != nil {
		span.SetError(err)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeVectorStore, "failed to ensure vector collection", err)
	}
	if err := s.vectors.Upsert(ctx, s.cfg.Collection, points); err != nil {
		span.SetError(err)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeVectorStore, "failed to upsert vectors", err)
	}

	if s.archiver != nil {
		key := archiveKey(doc.UserID, doc.KnowledgeBaseID, doc.DocumentID)
		if err := s.archiver.ArchiveDocument(ctx, key, []byte(doc.Content)); err != nil {
			log.Printf("failed to archive document %d: %v", doc.DocumentID, err)
			telemetry.CaptureError(ctx, err)
		}
	}

	if err := s.metadata.MarkVectorized(ctx, doc.DocumentID, doc.KnowledgeBaseID, len(points)); err != nil {
		span.SetError(err)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeMetadataStore, "failed to mark document vectorized", err)
	}

	return &IngestResult{VectorCount: len(points), Strategy: strategy}, nil
}

func validateEmbeddings(texts []string, embeddings [][]float32, dimensions int) error {
	if len(embeddings) != len(texts) {
		return &domain.EmbeddingMismatchError{Expected: len(texts), Got: len(embeddings)}
	}
	for i, e := range embeddings {
		if len(e) != dimensions {
			return &domain.EmbeddingMismatchError{
				Expected: len(texts),
				Got:      len(embeddings),
				Reason:   fmt.Sprintf("embedding %d has %d dimensions, want %d", i, len(e), dimensions),
			}
		}
	}
	return nil
}

// Delete removes a document from both stores. Vectors are removed before
// metadata so an interrupted delete never leaves metadata claiming vectors
// that are gone the other way around.
func (s *VectorizationService) Delete(ctx context.Context, documentID, knowledgeBaseID int64) (*DeleteResult, error) {
	unlock := s.docLocks.Lock(documentKey(documentID, knowledgeBaseID))
	defer unlock()

	ctx, span := telemetry.StartSpan(ctx, "document.delete", telemetry.SpanAttributes{
		KnowledgeBaseID: knowledgeBaseID,
		DocumentID:      documentID,
		Operation:       "delete",
	})
	defer span.End()

	meta, err := s.metadata.GetByDocument(ctx, documentID, knowledgeBaseID)
	if err != nil && !errors.Is(err, domain.ErrDocumentVectorsNotFound) {
		span.SetError(err)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeMetadataStore, "failed to load document metadata", err)
	}

	removed, err := s.vectors.DeleteByDocument(ctx, s.cfg.Collection, documentID, knowledgeBaseID)
	if err != nil {
		span.SetError(err)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeVectorStore, "failed to delete vectors", err)
	}

	if meta == nil && removed == 0 {
		return nil, domain.ErrDocumentVectorsNotFound
	}

	result := &DeleteResult{VectorsRemoved: removed}

	if meta != nil {
		if err := s.metadata.Delete(ctx, documentID, knowledgeBaseID); err != nil {
			span.SetError(err)
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeMetadataStore, "failed to delete document metadata", err)
		}
		result.MetadataDeleted = true

		if s.archiver != nil {
			key := archiveKey(meta.UserID, knowledgeBaseID, documentID)
			if err := s.archiver.DeleteDocument(ctx, key); err != nil {
				log.Printf("failed to delete archived document %d: %v", documentID, err)
				telemetry.CaptureError(ctx, err)
			}
		}
	}

	return result, nil
}

// ArchivedContent returns the original content stored for a document at
// ingest time. Only available when an archiver is configured.
func (s *VectorizationService) ArchivedContent(ctx context.Context, documentID, knowledgeBaseID int64) ([]byte, error) {
	if s.archiver == nil {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidOperation, "document archiving is not configured")
	}

	meta, err := s.metadata.GetByDocument(ctx, documentID, knowledgeBaseID)
	if err != nil {
		return nil, err
	}

	content, err := s.archiver.GetDocument(ctx, archiveKey(meta.UserID, knowledgeBaseID, documentID))
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeArchiveStore, "failed to read archived document", err)
	}
	return content, nil
}

// Search embeds the query and runs a filtered similarity search.
func (s *VectorizationService) Search(ctx context.Context, in *SearchInput) ([]*domain.SearchMatch, error) {
	if in == nil || in.Query == "" {
		return nil, domain.ErrEmptyQuery
	}
	if in.UserID <= 0 || in.KnowledgeBaseID <= 0 {
		return nil, domain.ErrMissingRequiredField
	}

	limit := in.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	threshold := float32(DefaultScoreThreshold)
	if in.ScoreThreshold != nil {
		threshold = *in.ScoreThreshold
	}

	ctx, span := telemetry.StartSpan(ctx, "document.search", telemetry.SpanAttributes{
		UserID:          in.UserID,
		KnowledgeBaseID: in.KnowledgeBaseID,
		Operation:       "search",
	})
	defer span.End()

	vector, err := s.embedder.GenerateEmbedding(ctx, in.Query)
	if err != nil {
		span.SetError(err)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeEmbedding, "failed to embed search query", err)
	}

	filter := SearchFilter{
		UserID:          in.UserID,
		KnowledgeBaseID: in.KnowledgeBaseID,
		DocumentID:      in.DocumentID,
	}
	matches, err := s.vectors.Search(ctx, s.cfg.Collection, vector, filter, limit, threshold)
	if err != nil {
		span.SetError(err)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeVectorStore, "search failed", err)
	}

	return matches, nil
}

// Status returns the vectorization state of one document.
func (s *VectorizationService) Status(ctx context.Context, documentID, knowledgeBaseID int64) (*domain.DocumentVectorMetadata, error) {
	return s.metadata.GetByDocument(ctx, documentID, knowledgeBaseID)
}

// ListByKnowledgeBase pages through vectorized documents in a knowledge
// base.
func (s *VectorizationService) ListByKnowledgeBase(ctx context.Context, knowledgeBaseID int64, cursorStr string, limit int) (*MetadataPage, error) {
	cursor, err := decodeOptionalCursor(cursorStr)
	if err != nil {
		return nil, err
	}
	return s.metadata.ListVectorizedByKnowledgeBase(ctx, knowledgeBaseID, cursor, limit)
}

// ListByUser pages through vectorized documents owned by a user.
func (s *VectorizationService) ListByUser(ctx context.Context, userID int64, cursorStr string, limit int) (*MetadataPage, error) {
	cursor, err := decodeOptionalCursor(cursorStr)
	if err != nil {
		return nil, err
	}
	return s.metadata.ListVectorizedByUser(ctx, userID, cursor, limit)
}

func decodeOptionalCursor(cursorStr string) (*pagination.Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}
	cursor, err := pagination.DecodeCursor(cursorStr)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	return cursor, nil
}

// Repair reconciles drift between the vector collection and the metadata
// table for documents untouched longer than minAge. Both drift directions
// are swept: orphan vectors left behind by interrupted ingests are deleted,
// and vectorized rows whose vectors are gone are demoted so a re-ingest
// heals them.
func (s *VectorizationService) Repair(ctx context.Context, minAge time.Duration, limit int) (*RepairReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "document.repair", telemetry.SpanAttributes{Operation: "repair"})
	defer span.End()

	olderThan := time.Now().UTC().Add(-minAge)
	stale, err := s.metadata.ListStaleUnvectorized(ctx, olderThan, limit)
	if err != nil {
		span.SetError(err)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeMetadataStore, "failed to list stale documents", err)
	}

	missing, err := s.metadata.ListVectorizedMissingVectors(ctx, s.cfg.Collection, olderThan, limit)
	if err != nil {
		span.SetError(err)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeMetadataStore, "failed to list documents with missing vectors", err)
	}

	report := &RepairReport{}
	for _, m := range append(stale, missing...) {
		changed, removed, err := s.repairOne(ctx, m)
		if err != nil {
			log.Printf("repair of document %d failed: %v", m.DocumentID, err)
			telemetry.CaptureError(ctx, err)
			continue
		}
		report.Checked++
		report.OrphansDeleted += removed
		if changed {
			report.Demoted++
		}
	}

	return report, nil
}

// RepairDocument reconciles a single document's stored state.
func (s *VectorizationService) RepairDocument(ctx context.Context, documentID, knowledgeBaseID int64) (*RepairReport, error) {
	meta, err := s.metadata.GetByDocument(ctx, documentID, knowledgeBaseID)
	if err != nil {
		return nil, err
	}

	changed, removed, err := s.repairOne(ctx, meta)
	if err != nil {
		return nil, err
	}

	report := &RepairReport{Checked: 1, OrphansDeleted: removed}
	if changed {
		report.Demoted = 1
	}
	return report, nil
}

// repairOne converges one metadata row with the vector collection. An
// unvectorized row with stored vectors means an interrupted ingest; the
// orphan vectors are removed. A vectorized row with no stored vectors is
// demoted to unvectorized.
func (s *VectorizationService) repairOne(ctx context.Context, m *domain.DocumentVectorMetadata) (demoted bool, removed int64, err error) {
	unlock := s.docLocks.Lock(documentKey(m.DocumentID, m.KnowledgeBaseID))
	defer unlock()

	count, err := s.vectors.CountByDocument(ctx, s.cfg.Collection, m.DocumentID, m.KnowledgeBaseID)
	if err != nil {
		return false, 0, err
	}

	if !m.IsVectorized && count > 0 {
		removed, err = s.vectors.DeleteByDocument(ctx, s.cfg.Collection, m.DocumentID, m.KnowledgeBaseID)
		if err != nil {
			return false, 0, err
		}
		return false, removed, nil
	}

	if m.IsVectorized && count == 0 {
		if err := s.metadata.MarkUnvectorized(ctx, m.DocumentID, m.KnowledgeBaseID); err != nil {
			return false, 0, err
		}
		return true, 0, nil
	}

	return false, 0, nil
}
