package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/pagination"
	"github.com/cloo-solutions/docpipe/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentVectorRepository persists vectorization state per document.
type DocumentVectorRepository struct {
	db dbtx
}

func NewDocumentVectorRepository(pool *pgxpool.Pool) *DocumentVectorRepository {
	return &DocumentVectorRepository{db: pool}
}

func NewDocumentVectorRepositoryWithTx(tx pgx.Tx) *DocumentVectorRepository {
	return &DocumentVectorRepository{db: tx}
}

// Upsert creates the metadata row for a document, or resets an existing one
// back to the unvectorized state. Called at the start of every ingest.
func (r *DocumentVectorRepository) Upsert(ctx context.Context, m *domain.DocumentVectorMetadata) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(ctx,
		`INSERT INTO document_vectors
			(document_id, knowledge_base_id, user_id, vector_count, is_vectorized, vectorized_at, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, FALSE, NULL, $4, $4)
		 ON CONFLICT (document_id, knowledge_base_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			vector_count = 0,
			is_vectorized = FALSE,
			vectorized_at = NULL,
			updated_at = EXCLUDED.updated_at`,
		m.DocumentID, m.KnowledgeBaseID, m.UserID, now,
	)
	return err
}

// MarkVectorized transitions the row to the vectorized state with its final
// vector count.
func (r *DocumentVectorRepository) MarkVectorized(ctx context.Context, documentID, knowledgeBaseID int64, vectorCount int) error {
	now := time.Now().UTC()
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE document_vectors
		 SET vector_count = $1, is_vectorized = TRUE, vectorized_at = $2, updated_at = $2
		 WHERE document_id = $3 AND knowledge_base_id = $4`,
		vectorCount, now, documentID, knowledgeBaseID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentVectorsNotFound
	}
	return nil
}

// MarkUnvectorized resets a row to the unvectorized state without touching
// its identity. Used by the repair routine.
func (r *DocumentVectorRepository) MarkUnvectorized(ctx context.Context, documentID, knowledgeBaseID int64) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE document_vectors
		 SET vector_count = 0, is_vectorized = FALSE, vectorized_at = NULL, updated_at = $1
		 WHERE document_id = $2 AND knowledge_base_id = $3`,
		time.Now().UTC(), documentID, knowledgeBaseID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentVectorsNotFound
	}
	return nil
}

func (r *DocumentVectorRepository) Delete(ctx context.Context, documentID, knowledgeBaseID int64) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM document_vectors WHERE document_id = $1 AND knowledge_base_id = $2`,
		documentID, knowledgeBaseID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentVectorsNotFound
	}
	return nil
}

func (r *DocumentVectorRepository) GetByDocument(ctx context.Context, documentID, knowledgeBaseID int64) (*domain.DocumentVectorMetadata, error) {
	var m domain.DocumentVectorMetadata
	err := r.db.QueryRow(ctx,
		`SELECT document_id, knowledge_base_id, user_id, vector_count, is_vectorized, vectorized_at, created_at, updated_at
		 FROM document_vectors WHERE document_id = $1 AND knowledge_base_id = $2`,
		documentID, knowledgeBaseID,
	).Scan(&m.DocumentID, &m.KnowledgeBaseID, &m.UserID, &m.VectorCount, &m.IsVectorized, &m.VectorizedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentVectorsNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListVectorizedByKnowledgeBase returns vectorized rows for a knowledge base,
// newest first, with cursor pagination.
func (r *DocumentVectorRepository) ListVectorizedByKnowledgeBase(ctx context.Context, knowledgeBaseID int64, cursor *pagination.Cursor, limit int) (*service.MetadataPage, error) {
	return r.listVectorized(ctx, "knowledge_base_id", knowledgeBaseID, cursor, limit)
}

// ListVectorizedByUser returns vectorized rows for a user, newest first, with
// cursor pagination.
func (r *DocumentVectorRepository) ListVectorizedByUser(ctx context.Context, userID int64, cursor *pagination.Cursor, limit int) (*service.MetadataPage, error) {
	return r.listVectorized(ctx, "user_id", userID, cursor, limit)
}

func (r *DocumentVectorRepository) listVectorized(ctx context.Context, keyColumn string, keyValue int64, cursor *pagination.Cursor, limit int) (*service.MetadataPage, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT document_id, knowledge_base_id, user_id, vector_count, is_vectorized, vectorized_at, created_at, updated_at
			 FROM document_vectors
			 WHERE `+keyColumn+` = $1 AND is_vectorized = TRUE AND (updated_at, document_id) < ($2, $3)
			 ORDER BY updated_at DESC, document_id DESC
			 LIMIT $4`,
			keyValue, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT document_id, knowledge_base_id, user_id, vector_count, is_vectorized, vectorized_at, created_at, updated_at
			 FROM document_vectors
			 WHERE `+keyColumn+` = $1 AND is_vectorized = TRUE
			 ORDER BY updated_at DESC, document_id DESC
			 LIMIT $2`,
			keyValue, limit+1,
		)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanMetadataRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		lastItem := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(lastItem.DocumentID, lastItem.UpdatedAt)
	}

	return &service.MetadataPage{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListStaleUnvectorized returns unvectorized rows whose last update is older
// than the given time. These are repair candidates: either an ingest failed
// mid-flight or it crashed between the vector write and the metadata update.
func (r *DocumentVectorRepository) ListStaleUnvectorized(ctx context.Context, olderThan time.Time, limit int) ([]*domain.DocumentVectorMetadata, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`SELECT document_id, knowledge_base_id, user_id, vector_count, is_vectorized, vectorized_at, created_at, updated_at
		 FROM document_vectors
		 WHERE is_vectorized = FALSE AND updated_at < $1
		 ORDER BY updated_at ASC
		 LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMetadataRows(rows)
}

// ListVectorizedMissingVectors returns vectorized rows older than the given
// time that have no points left in the collection. These arise from a delete
// interrupted between the vector removal and the metadata removal. A missing
// collection means every vectorized row qualifies.
func (r *DocumentVectorRepository) ListVectorizedMissingVectors(ctx context.Context, collection string, olderThan time.Time, limit int) ([]*domain.DocumentVectorMetadata, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	var regclass *string
	if err := r.db.QueryRow(ctx, `SELECT to_regclass($1)::text`, collection).Scan(&regclass); err != nil {
		return nil, err
	}

	query := `SELECT document_id, knowledge_base_id, user_id, vector_count, is_vectorized, vectorized_at, created_at, updated_at
		 FROM document_vectors m
		 WHERE m.is_vectorized = TRUE AND m.updated_at < $1`
	if regclass != nil {
		query += ` AND NOT EXISTS (
			SELECT 1 FROM ` + collection + ` v
			WHERE v.document_id = m.document_id AND v.knowledge_base_id = m.knowledge_base_id
		 )`
	}
	query += ` ORDER BY m.updated_at ASC LIMIT $2`

	rows, err := r.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMetadataRows(rows)
}

func scanMetadataRows(rows pgx.Rows) ([]*domain.DocumentVectorMetadata, error) {
	var results []*domain.DocumentVectorMetadata
	for rows.Next() {
		var m domain.DocumentVectorMetadata
		if err := rows.Scan(&m.DocumentID, &m.KnowledgeBaseID, &m.UserID, &m.VectorCount, &m.IsVectorized, &m.VectorizedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		results = append(results, &m)
	}
	return results, rows.Err()
}
