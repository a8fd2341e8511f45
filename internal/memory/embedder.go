package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"archi/internal/jsonx"
)

// EmbedderConfig points at an OpenAI-compatible /embeddings endpoint.
// The local llama.cpp server works with an empty APIKey.
type EmbedderConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	CacheSize int
	Timeout   time.Duration
}

type httpEmbedder struct {
	cfg   EmbedderConfig
	http  *http.Client
	cache *lru.Cache[string, []float32]
}

// NewHTTPEmbedder creates an embedder speaking the OpenAI embeddings
// wire format, with an LRU cache keyed on the input text.
func NewHTTPEmbedder(cfg EmbedderConfig) (Embedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedder base URL required")
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedder cache: %w", err)
	}
	return &httpEmbedder{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		cache: cache,
	}, nil
}

func (e *httpEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}

	body, err := jsonx.Marshal(map[string]any{
		"model": e.cfg.Model,
		"input": []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("embeddings status %d: %s", resp.StatusCode, string(data))
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := jsonx.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embeddings: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	embedding := parsed.Data[0].Embedding
	e.cache.Add(text, embedding)
	return embedding, nil
}
