package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChunkStrategy records which chunking path produced a document's chunks.
type ChunkStrategy string

const (
	// StrategySemantic means chunks were derived from embedding-based
	// boundary detection.
	StrategySemantic ChunkStrategy = "semantic"
	// StrategyFallback means semantic chunking could not complete and the
	// size-capped fallback splitter was used instead.
	StrategyFallback ChunkStrategy = "fallback"
)

// Document is the unit of ingestion. Content is transient input and is never
// persisted directly; the identity triple scopes every read, write, and
// delete.
type Document struct {
	Content         string
	UserID          int64
	KnowledgeBaseID int64
	DocumentID      int64
}

// ChunkMetadata is the filterable payload attached to every stored vector.
type ChunkMetadata struct {
	DocumentID      int64
	KnowledgeBaseID int64
	UserID          int64
	ChunkIndex      int
	TotalChunks     int
	OriginalContent string
}

// VectorPoint is one stored unit in the vector collection.
type VectorPoint struct {
	ID        uuid.UUID
	Vector    []float32
	Content   string
	Metadata  ChunkMetadata
	CreatedAt time.Time
}

// DocumentVectorMetadata is the relational record of vectorization state for
// one document, unique on (DocumentID, KnowledgeBaseID).
type DocumentVectorMetadata struct {
	DocumentID      int64
	KnowledgeBaseID int64
	UserID          int64
	VectorCount     int
	IsVectorized    bool
	VectorizedAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SearchMatch is one ranked result from a filtered similarity search.
type SearchMatch struct {
	ID       uuid.UUID
	Score    float32
	Content  string
	Metadata ChunkMetadata
}

// pointNamespace is the fixed UUIDv5 namespace for vector point IDs.
var pointNamespace = uuid.MustParse("5f2be4c7-3a19-4d0a-9c41-8be07c8cf9d3")

// PointID derives the stable vector point ID for a chunk. The composite
// (documentID, chunkIndex) key keeps IDs collision-free regardless of how
// many chunks a document produces.
func PointID(documentID int64, chunkIndex int) uuid.UUID {
	return uuid.NewSHA1(pointNamespace, fmt.Appendf(nil, "%d:%d", documentID, chunkIndex))
}

// ValidateDocument validates a Document prior to ingestion.
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if d.Content == "" {
		return ErrEmptyContent
	}
	if d.DocumentID <= 0 {
		return NewDomainError(ErrCodeValidation, "document ID must be a positive integer")
	}
	if d.KnowledgeBaseID <= 0 {
		return NewDomainError(ErrCodeValidation, "knowledge base ID must be a positive integer")
	}
	if d.UserID <= 0 {
		return NewDomainError(ErrCodeValidation, "user ID must be a positive integer")
	}
	return nil
}
