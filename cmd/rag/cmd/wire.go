package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"ragqa/internal/config"
	"ragqa/internal/domain"
	"ragqa/internal/embedding"
	"ragqa/internal/embedding/openai"
	"ragqa/internal/llm/ollama"
	llmopenai "ragqa/internal/llm/openai"
	"ragqa/internal/metrics"
	"ragqa/internal/service"
	"ragqa/internal/summarizer"
	"ragqa/internal/vectorstore"
	"ragqa/internal/vectorstore/astra"
	"ragqa/internal/vectorstore/hnsw"
	"ragqa/internal/vectorstore/memory"
	"ragqa/internal/vectorstore/qdrant"
	"ragqa/internal/vectorstore/sqlite"
)

func buildEmbedder(cfg *config.AppConfig) (embedding.Embedder, error) {
	var emb embedding.Embedder
	switch cfg.Embedder.Type {
	case "hash", "":
		emb = embedding.NewHashEmbedder(cfg.Embedder.Dimension)
	case "openai":
		o := cfg.Embedder.OpenAI
		client, err := openai.NewClient(openai.Config{
			BaseURL:    o.BaseURL,
			APIKey:     o.APIKey(),
			Model:      o.Model,
			Timeout:    config.Secs(o.TimeoutSecs),
			MaxRetries: o.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		emb = client
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
	if cfg.Embedder.CacheSize > 0 {
		emb = embedding.NewCached(emb, cfg.Embedder.CacheSize)
	}
	return emb, nil
}

func buildIndex(cfg *config.AppConfig) (vectorstore.Index, error) {
	vs := cfg.VectorStore
	switch vs.Type {
	case "memory", "":
		return memory.NewStorage(), nil
	case "hnsw":
		return hnsw.Open(hnsw.Config{Path: vs.HNSW.Path, M: vs.HNSW.M, EfSearch: vs.HNSW.EfSearch})
	case "sqlite":
		return sqlite.Open(vs.SQLite.Path)
	case "qdrant":
		return qdrant.NewStorage(qdrant.Config{
			URL:        vs.Qdrant.URL,
			APIKey:     vs.Qdrant.APIKey,
			Collection: vs.Qdrant.Collection,
			Timeout:    config.Secs(vs.Qdrant.TimeoutSecs),
		}), nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", vs.Type)
	}
}

func buildStore(cfg *config.AppConfig, log zerolog.Logger) (domain.VectorStore, error) {
	policy, err := vectorstore.ParseDuplicatePolicy(cfg.VectorStore.DuplicatePolicy)
	if err != nil {
		return nil, err
	}
	if cfg.VectorStore.Type == "astra" {
		a := cfg.VectorStore.Astra
		return astra.New(astra.Config{
			Endpoint:   a.Endpoint,
			Token:      a.Token,
			Keyspace:   a.Keyspace,
			Collection: a.Collection,
			Timeout:    config.Secs(a.TimeoutSecs),
		}, policy, log)
	}
	emb, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	idx, err := buildIndex(cfg)
	if err != nil {
		return nil, err
	}
	return vectorstore.NewStore(emb, idx, policy, log), nil
}

func buildModel(cfg *config.AppConfig) (domain.ChatModel, error) {
	switch cfg.LLM.Type {
	case "openai", "":
		return llmopenai.NewClient(llmopenai.Config{
			APIKey:  cfg.LLM.APIKey(),
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: config.Secs(cfg.LLM.TimeoutSecs),
		})
	case "ollama":
		return ollama.NewClient(ollama.Config{
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: config.Secs(cfg.LLM.TimeoutSecs),
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm: %s", cfg.LLM.Type)
	}
}

// lazyModel defers client construction to the first chat so commands that
// never synthesize do not need model credentials.
type lazyModel struct {
	cfg   *config.AppConfig
	once  sync.Once
	model domain.ChatModel
	err   error
}

func (l *lazyModel) get() (domain.ChatModel, error) {
	l.once.Do(func() { l.model, l.err = buildModel(l.cfg) })
	return l.model, l.err
}

func (l *lazyModel) Chat(ctx context.Context, messages []domain.ChatMessage, opts domain.ChatOptions) (string, error) {
	m, err := l.get()
	if err != nil {
		return "", err
	}
	return m.Chat(ctx, messages, opts)
}

func (l *lazyModel) ModelName() string {
	if m, err := l.get(); err == nil {
		return m.ModelName()
	}
	return l.cfg.LLM.Model
}

func buildSummarizer(cfg *config.AppConfig) (*summarizer.FrequencySummarizer, error) {
	switch cfg.Summarizer.Type {
	case "frequency", "":
		return summarizer.NewFrequencySummarizer(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown summarizer: %s", cfg.Summarizer.Type)
	}
}

// buildService assembles the pipeline from configuration. With needModel
// unset the model is built on first use, so ingestion and retrieval work
// without model credentials. The caller owns the returned service and must
// Close it.
func buildService(cfg *config.AppConfig, m *metrics.Metrics, log zerolog.Logger, needModel bool) (*service.RAGServiceImpl, *summarizer.FrequencySummarizer, error) {
	var model domain.ChatModel = &lazyModel{cfg: cfg}
	if needModel {
		var err error
		if model, err = buildModel(cfg); err != nil {
			return nil, nil, err
		}
	}
	sum, err := buildSummarizer(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := buildStore(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	var s domain.Summarizer
	if sum != nil {
		s = sum
	}
	svc := service.NewRAGService(store, model, s, service.Options{
		Chunker:             cfg.Chunker,
		Limit:               cfg.Retrieval.Limit,
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		MaxContextChars:     cfg.Context.MaxChars,
		MaxTokens:           cfg.LLM.MaxTokens,
		SummaryMaxSentences: cfg.Summarizer.MaxSentences,
		IngestConcurrency:   cfg.Ingest.Concurrency,
		Extensions:          cfg.Ingest.Extensions,
	}, m, log)
	return svc, sum, nil
}
