package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ragqa/internal/assembler"
	"ragqa/internal/chunker"
	"ragqa/internal/domain"
	"ragqa/internal/metrics"
	"ragqa/internal/retriever"
	"ragqa/internal/synthesizer"
)

// Options holds pipeline defaults applied to every request.
type Options struct {
	Chunker             chunker.Options
	Limit               int
	SimilarityThreshold *float64
	MaxContextChars     int
	MaxTokens           int
	SummaryMaxSentences int
	IngestConcurrency   int
	Extensions          []string
}

// IngestResult reports what a single document ingestion wrote.
type IngestResult struct {
	DocumentID string `json:"document_id"`
	SourceName string `json:"source_name"`
	Chunks     int    `json:"chunks"`
	Inserted   int    `json:"inserted"`
	Summary    string `json:"summary,omitempty"`
}

// RAGServiceImpl wires the pipeline stages around a single store and model
// created at startup. It holds no per-request state.
type RAGServiceImpl struct {
	store      domain.VectorStore
	retriever  *retriever.Retriever
	assembler  *assembler.Assembler
	synth      *synthesizer.Synthesizer
	summarizer domain.Summarizer
	opts       Options
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewRAGService builds the pipeline. summarizer and m may be nil.
func NewRAGService(store domain.VectorStore, model domain.ChatModel, summarizer domain.Summarizer, opts Options, m *metrics.Metrics, log zerolog.Logger) *RAGServiceImpl {
	if opts.Chunker == (chunker.Options{}) {
		opts.Chunker = chunker.DefaultOptions()
	}
	if opts.IngestConcurrency <= 0 {
		opts.IngestConcurrency = 4
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".txt", ".md"}
	}
	if m == nil {
		m = metrics.New()
	}
	return &RAGServiceImpl{
		store:      store,
		retriever:  retriever.New(store, log),
		assembler:  assembler.New(opts.MaxContextChars),
		synth:      synthesizer.New(model, opts.MaxTokens, log),
		summarizer: summarizer,
		opts:       opts,
		metrics:    m,
		log:        log.With().Str("component", "service").Logger(),
	}
}

// ChunkOptions returns the default chunking parameters.
func (s *RAGServiceImpl) ChunkOptions() chunker.Options { return s.opts.Chunker }

// Ingest chunks doc with opts and upserts the chunks. When doc.ID is set the
// chunks previously stored for it are removed first. An empty document yields
// zero chunks and writes nothing.
func (s *RAGServiceImpl) Ingest(ctx context.Context, doc domain.Document, opts chunker.Options) (IngestResult, error) {
	res, err := s.ingest(ctx, doc, opts)
	if err != nil {
		s.metrics.IngestErrorsTotal.WithLabelValues(kindLabel(err)).Inc()
		s.log.Warn().Err(err).Str("source", doc.SourceName).Msg("ingestion failed")
		return res, err
	}
	s.metrics.RecordIngest(res.Inserted)
	s.log.Info().
		Str("document_id", res.DocumentID).
		Str("source", res.SourceName).
		Int("chunks", res.Chunks).
		Int("inserted", res.Inserted).
		Msg("document ingested")
	return res, nil
}

func (s *RAGServiceImpl) ingest(ctx context.Context, doc domain.Document, opts chunker.Options) (IngestResult, error) {
	c, err := chunker.NewWindowChunker(opts)
	if err != nil {
		return IngestResult{}, err
	}
	replace := doc.ID != ""
	if !replace {
		doc.ID = uuid.NewString()
	}
	if doc.SourceName == "" {
		doc.SourceName = doc.ID
	}
	res := IngestResult{DocumentID: doc.ID, SourceName: doc.SourceName}

	chunks, err := c.Chunk(doc)
	if err != nil {
		return res, err
	}
	res.Chunks = len(chunks)

	// a known document id supersedes whatever was stored under it
	if deleter, ok := s.store.(domain.DocumentDeleter); ok && replace {
		if err := deleter.DeleteDocument(ctx, doc.ID); err != nil {
			return res, classifyStoreError(domain.StageIngestion, err)
		}
	}
	if len(chunks) == 0 {
		return res, nil
	}

	n, err := s.store.Upsert(ctx, chunks)
	res.Inserted = n
	if err != nil {
		return res, classifyStoreError(domain.StageIngestion, err)
	}

	if s.summarizer != nil {
		summary, err := s.summarizer.Summarize(chunker.Normalize(doc.RawText), s.opts.SummaryMaxSentences)
		if err != nil {
			s.log.Warn().Err(err).Str("document_id", doc.ID).Msg("summary failed")
		}
		res.Summary = summary
	}
	return res, nil
}

// IngestFile reads and ingests a single file. The document id is derived from
// the path so re-ingesting a file targets the same document.
func (s *RAGServiceImpl) IngestFile(ctx context.Context, path string, opts chunker.Options) (IngestResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return IngestResult{}, err
	}
	contentType := "text/plain"
	if strings.EqualFold(filepath.Ext(path), ".md") {
		contentType = "text/markdown"
	}
	return s.Ingest(ctx, domain.Document{
		ID:          hashString(path),
		RawText:     string(data),
		SourceName:  filepath.Base(path),
		ContentType: contentType,
	}, opts)
}

// IngestFiles expands globs and directories, then ingests every matching file
// with bounded concurrency. Results are in the order files were found.
func (s *RAGServiceImpl) IngestFiles(ctx context.Context, paths []string, opts chunker.Options) ([]IngestResult, error) {
	files, err := s.ExpandPaths(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s documents found", strings.Join(s.opts.Extensions, "/"))
	}

	results := make([]IngestResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.IngestConcurrency)
	for i, f := range files {
		g.Go(func() error {
			res, err := s.IngestFile(gctx, f, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", f, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ExpandPaths resolves globs and walks directories, keeping files whose
// extension is accepted.
func (s *RAGServiceImpl) ExpandPaths(paths []string) ([]string, error) {
	var out []string
	seen := map[string]struct{}{}
	add := func(p string) {
		if _, dup := seen[p]; dup || !s.Accepts(p) {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, p := range paths {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, err
		}
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				add(m)
				continue
			}
			err = filepath.WalkDir(m, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() {
					add(path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// Accepts reports whether path has an ingestible extension.
func (s *RAGServiceImpl) Accepts(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range s.opts.Extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// Retrieve returns the units relevant to q, applying configured defaults for
// a missing limit or threshold.
func (s *RAGServiceImpl) Retrieve(ctx context.Context, q domain.RetrievalQuery) ([]domain.RetrievedUnit, error) {
	if q.Limit == 0 {
		q.Limit = s.opts.Limit
	}
	if q.SimilarityThreshold == nil {
		q.SimilarityThreshold = s.opts.SimilarityThreshold
	}
	start := time.Now()
	units, err := s.retriever.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	s.metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	s.metrics.RetrievalResults.Observe(float64(len(units)))
	return units, nil
}

// Ask retrieves, assembles and synthesizes an answer to q.
func (s *RAGServiceImpl) Ask(ctx context.Context, q domain.RetrievalQuery) (domain.Answer, error) {
	units, err := s.Retrieve(ctx, q)
	if err != nil {
		return domain.Answer{}, err
	}
	assembled := s.assembler.Assemble(units)

	start := time.Now()
	ans, err := s.synth.Synthesize(ctx, q.Text, assembled)
	switch {
	case err != nil:
		s.metrics.RecordAnswer(metrics.OutcomeFailed)
		return domain.Answer{}, err
	case !ans.Grounded:
		s.metrics.RecordAnswer(metrics.OutcomeNoMatch)
	default:
		s.metrics.SynthesisDuration.Observe(time.Since(start).Seconds())
		s.metrics.RecordAnswer(metrics.OutcomeGrounded)
	}
	s.log.Info().
		Bool("grounded", ans.Grounded).
		Int("units", len(ans.SourceUnits)).
		Msg("answered query")
	return ans, nil
}

// Collections lists the store's collections when the backend supports it.
func (s *RAGServiceImpl) Collections(ctx context.Context) ([]string, error) {
	lister, ok := s.store.(domain.CollectionLister)
	if !ok {
		return []string{}, nil
	}
	names, err := lister.Collections(ctx)
	if err != nil {
		return nil, classifyStoreError(domain.StageRetrieval, err)
	}
	return names, nil
}

// Close releases the store.
func (s *RAGServiceImpl) Close() error {
	return s.store.Close()
}

func classifyStoreError(stage domain.Stage, err error) error {
	var classified *domain.Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, domain.ErrDuplicateID) {
		return domain.NewError(stage, domain.ErrDuplicateID, "", err)
	}
	return domain.NewError(stage, domain.ErrStoreUnavailable, "", err)
}

func kindLabel(err error) string {
	if k := domain.KindOf(err); k != nil {
		return strings.ReplaceAll(k.Error(), " ", "_")
	}
	return "other"
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
