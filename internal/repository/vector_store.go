package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// collectionNameRe guards dynamic table names; collection names never come
// from request input, but the identifier is interpolated into SQL.
var collectionNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

var modelSlugRe = regexp.MustCompile(`[^a-z0-9]+`)

// CollectionName builds the collection identifier for an embedding model.
// Namespacing by model and dimension keeps vectors from different models out
// of each other's collections.
func CollectionName(model string, dimensions int) string {
	slug := modelSlugRe.ReplaceAllString(strings.ToLower(model), "_")
	slug = strings.Trim(slug, "_")
	return fmt.Sprintf("doc_vectors_%s_%d", slug, dimensions)
}

// VectorStore is a pgvector-backed vector collection, one table per
// embedding-model collection.
type VectorStore struct {
	pool *pgxpool.Pool
}

func NewVectorStore(pool *pgxpool.Pool) *VectorStore {
	return &VectorStore{pool: pool}
}

func (s *VectorStore) opClass(metric service.DistanceMetric) (string, error) {
	switch metric {
	case service.DistanceCosine, "":
		return "vector_cosine_ops", nil
	case service.DistanceL2:
		return "vector_l2_ops", nil
	case service.DistanceInnerProduct:
		return "vector_ip_ops", nil
	default:
		return "", fmt.Errorf("unsupported distance metric: %s", metric)
	}
}

func validateCollection(name string) error {
	if !collectionNameRe.MatchString(name) {
		return fmt.Errorf("invalid collection name: %q", name)
	}
	return nil
}

// EnsureCollection creates the backing table and indexes if they do not
// exist yet.
func (s *VectorStore) EnsureCollection(ctx context.Context, name string, dimensions int, metric service.DistanceMetric) error {
	if err := validateCollection(name); err != nil {
		return err
	}
	if dimensions <= 0 {
		return fmt.Errorf("invalid collection dimensions: %d", dimensions)
	}
	opclass, err := s.opClass(metric)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			embedding VECTOR(%d) NOT NULL,
			content TEXT NOT NULL,
			original_content TEXT NOT NULL DEFAULT '',
			user_id BIGINT NOT NULL,
			knowledge_base_id BIGINT NOT NULL,
			document_id BIGINT NOT NULL,
			chunk_index INT NOT NULL,
			total_chunks INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, name, dimensions))
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding %s)`,
		name, name, opclass))
	if err != nil {
		return fmt.Errorf("failed to create embedding index on %s: %w", name, err)
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_document_idx ON %s (document_id, knowledge_base_id)`,
		name, name))
	if err != nil {
		return fmt.Errorf("failed to create document index on %s: %w", name, err)
	}

	return nil
}

// Upsert writes vector points into a collection, replacing points with the
// same ID.
func (s *VectorStore) Upsert(ctx context.Context, collection string, points []*domain.VectorPoint) error {
	if err := validateCollection(collection); err != nil {
		return err
	}

	for _, p := range points {
		_, err := s.pool.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s
				(id, embedding, content, original_content, user_id, knowledge_base_id, document_id, chunk_index, total_chunks, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (id) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				content = EXCLUDED.content,
				original_content = EXCLUDED.original_content,
				user_id = EXCLUDED.user_id,
				knowledge_base_id = EXCLUDED.knowledge_base_id,
				document_id = EXCLUDED.document_id,
				chunk_index = EXCLUDED.chunk_index,
				total_chunks = EXCLUDED.total_chunks,
				created_at = EXCLUDED.created_at`, collection),
			p.ID,
			pgvector.NewVector(p.Vector),
			p.Content,
			p.Metadata.OriginalContent,
			p.Metadata.UserID,
			p.Metadata.KnowledgeBaseID,
			p.Metadata.DocumentID,
			p.Metadata.ChunkIndex,
			p.Metadata.TotalChunks,
			p.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert point %s: %w", p.ID, err)
		}
	}

	return nil
}

// Search runs a filtered cosine similarity search. UserID and
// KnowledgeBaseID filters are mandatory; DocumentID is optional. Matches are
// returned in descending score order.
func (s *VectorStore) Search(ctx context.Context, collection string, vector []float32, filter service.SearchFilter, limit int, scoreThreshold float32) ([]*domain.SearchMatch, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	exists, err := s.collectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []*domain.SearchMatch{}, nil
	}

	vec := pgvector.NewVector(vector)

	query := fmt.Sprintf(
		`SELECT id, content, original_content, user_id, knowledge_base_id, document_id, chunk_index, total_chunks,
		        1 - (embedding <=> $1) AS score
		 FROM %s
		 WHERE user_id = $2 AND knowledge_base_id = $3 AND 1 - (embedding <=> $1) >= $4`, collection)
	args := []any{vec, filter.UserID, filter.KnowledgeBaseID, scoreThreshold}

	if filter.DocumentID != nil {
		query += " AND document_id = $5"
		args = append(args, *filter.DocumentID)
	}

	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT %d", limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := make([]*domain.SearchMatch, 0)
	for rows.Next() {
		var m domain.SearchMatch
		if err := rows.Scan(
			&m.ID, &m.Content, &m.Metadata.OriginalContent,
			&m.Metadata.UserID, &m.Metadata.KnowledgeBaseID, &m.Metadata.DocumentID,
			&m.Metadata.ChunkIndex, &m.Metadata.TotalChunks, &m.Score,
		); err != nil {
			return nil, err
		}
		matches = append(matches, &m)
	}

	return matches, rows.Err()
}

// DeleteByDocument removes all points for a document. A missing collection
// is not an error; it deletes nothing.
func (s *VectorStore) DeleteByDocument(ctx context.Context, collection string, documentID, knowledgeBaseID int64) (int64, error) {
	if err := validateCollection(collection); err != nil {
		return 0, err
	}

	exists, err := s.collectionExists(ctx, collection)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	cmdTag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE document_id = $1 AND knowledge_base_id = $2`, collection),
		documentID, knowledgeBaseID,
	)
	if err != nil {
		return 0, err
	}

	return cmdTag.RowsAffected(), nil
}

// CountByDocument reports how many points a document has stored. Used by the
// repair routine.
func (s *VectorStore) CountByDocument(ctx context.Context, collection string, documentID, knowledgeBaseID int64) (int64, error) {
	if err := validateCollection(collection); err != nil {
		return 0, err
	}

	exists, err := s.collectionExists(ctx, collection)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var count int64
	err = s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE document_id = $1 AND knowledge_base_id = $2`, collection),
		documentID, knowledgeBaseID,
	).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (s *VectorStore) collectionExists(ctx context.Context, collection string) (bool, error) {
	var regclass *string
	if err := s.pool.QueryRow(ctx, `SELECT to_regclass($1)::text`, collection).Scan(&regclass); err != nil {
		return false, err
	}
	return regclass != nil, nil
}
