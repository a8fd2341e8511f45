package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/google/uuid"

	"archi/internal/logging"
)

// Embedder turns text into a vector. An OpenAI-compatible embeddings
// endpoint (local llama.cpp included) satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// Recollection is one long-term memory hit.
type Recollection struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Similarity float32           `json:"similarity"`
}

// LongTerm is the persistent vector memory, backed by chromem-go.
type LongTerm struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     logging.Logger
	now        func() time.Time
}

// NewLongTerm opens (or creates) the persistent store under dataDir.
// An empty dataDir keeps everything in memory.
func NewLongTerm(dataDir string, embedder Embedder, logger logging.Logger) (*LongTerm, error) {
	var db *chromem.DB
	var err error
	if dataDir != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(dataDir, "memory.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	collection, err := db.GetOrCreateCollection("memories", nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("open memory collection: %w", err)
	}

	return &LongTerm{
		db:         db,
		collection: collection,
		logger:     logging.OrNop(logger),
		now:        time.Now,
	}, nil
}

// Remember stores one memory and returns its ID.
func (m *LongTerm) Remember(ctx context.Context, content string, metadata map[string]string) (string, error) {
	if content == "" {
		return "", fmt.Errorf("empty memory content")
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["stored_at"] = m.now().Format(time.RFC3339)

	id := uuid.NewString()
	err := m.collection.AddDocument(ctx, chromem.Document{
		ID:       id,
		Content:  content,
		Metadata: metadata,
	})
	if err != nil {
		return "", fmt.Errorf("store memory: %w", err)
	}
	m.logger.Debug("Stored memory %s (%d bytes)", id, len(content))
	return id, nil
}

// Recall returns up to topK memories similar to query, filtered by
// minSimilarity. Asking for more results than stored is not an error.
func (m *LongTerm) Recall(ctx context.Context, query string, topK int, minSimilarity float32) ([]Recollection, error) {
	if topK <= 0 {
		topK = 5
	}
	count := m.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := m.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}

	var out []Recollection
	for _, r := range results {
		if r.Similarity < minSimilarity {
			continue
		}
		out = append(out, Recollection{
			ID:         r.ID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

// Forget removes one memory by ID.
func (m *LongTerm) Forget(ctx context.Context, id string) error {
	return m.collection.Delete(ctx, nil, nil, id)
}

// Count returns the number of stored memories.
func (m *LongTerm) Count() int { return m.collection.Count() }
