package hnsw

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"ragqa/internal/domain"
	"ragqa/internal/vectorstore"
)

// Config tunes the graph. Path, when set, persists the index on Close and
// reloads it on Open.
type Config struct {
	Path     string `yaml:"path"`
	M        int    `yaml:"m"`
	EfSearch int    `yaml:"ef_search"`
}

// Index is an approximate nearest neighbour index backed by coder/hnsw.
// Replaced and deleted ids are orphaned in the graph rather than removed.
type Index struct {
	mu        sync.RWMutex
	cfg       Config
	graph     *hnsw.Graph[uint64]
	dimension int

	idMap   map[string]uint64
	keyMap  map[uint64]string
	chunks  map[string]domain.Chunk
	nextKey uint64
	closed  bool
}

var _ vectorstore.Index = (*Index)(nil)

type metadata struct {
	Dimension int
	IDMap     map[string]uint64
	Chunks    map[string]domain.Chunk
	NextKey   uint64
}

// Open creates an index, loading a previously saved one from cfg.Path if present.
func Open(cfg Config) (*Index, error) {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}
	idx := &Index{
		cfg:    cfg,
		graph:  newGraph(cfg),
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		chunks: make(map[string]domain.Chunk),
	}
	if cfg.Path == "" {
		return idx, nil
	}
	if _, err := os.Stat(cfg.Path); errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

func newGraph(cfg Config) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// Name returns the index name.
func (x *Index) Name() string { return "hnsw" }

// Init fixes the vector dimension. A loaded index must match it.
func (x *Index) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.dimension != 0 && x.dimension != dimension && len(x.idMap) > 0 {
		return fmt.Errorf("index holds %d-dimensional vectors, got %d", x.dimension, dimension)
	}
	x.dimension = dimension
	return nil
}

// Upsert adds records, orphaning the previous node of any replaced id.
func (x *Index) Upsert(_ context.Context, records []vectorstore.Record) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return errors.New("index is closed")
	}
	for _, r := range records {
		if len(r.Vector) != x.dimension {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", x.dimension, len(r.Vector))
		}
	}
	for _, r := range records {
		id := r.Chunk.ID
		if old, ok := x.idMap[id]; ok {
			delete(x.keyMap, old)
		}
		key := x.nextKey
		x.nextKey++
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		x.graph.Add(hnsw.MakeNode(key, vec))
		x.idMap[id] = key
		x.keyMap[key] = id
		x.chunks[id] = r.Chunk
	}
	return nil
}

// Search returns up to topK live records nearest to vector.
func (x *Index) Search(ctx context.Context, vector []float32, topK int) ([]vectorstore.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, errors.New("index is closed")
	}
	if x.graph.Len() == 0 || topK <= 0 {
		return nil, nil
	}
	if len(vector) != x.dimension {
		return nil, fmt.Errorf("vector dimension mismatch: expected %d, got %d", x.dimension, len(vector))
	}
	// a zero query has no direction to rank by
	if vectorstore.IsZero(vector) {
		return nil, nil
	}
	// orphans occupy result slots
	k := topK + x.graph.Len() - len(x.keyMap)
	nodes := x.graph.Search(vector, k)
	hits := make([]vectorstore.Hit, 0, topK)
	for _, n := range nodes {
		id, live := x.keyMap[n.Key]
		if !live {
			continue
		}
		hits = append(hits, vectorstore.Hit{
			Chunk: x.chunks[id],
			Score: vectorstore.Cosine(vector, n.Value),
		})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

// Existing returns the ids that are already stored.
func (x *Index) Existing(_ context.Context, ids []string) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []string
	for _, id := range ids {
		if _, ok := x.idMap[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// DeleteDocument orphans the nodes of every chunk of documentID.
func (x *Index) DeleteDocument(_ context.Context, documentID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return errors.New("index is closed")
	}
	for id, c := range x.chunks {
		if c.DocumentID != documentID {
			continue
		}
		delete(x.keyMap, x.idMap[id])
		delete(x.idMap, id)
		delete(x.chunks, id)
	}
	return nil
}

// Len returns the number of live records.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.idMap)
}

// Close saves the index when a path is configured and it was ever initialized.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	if x.cfg.Path == "" || x.dimension == 0 {
		return nil
	}
	return x.save()
}

func (x *Index) save() error {
	if err := os.MkdirAll(filepath.Dir(x.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}
	if err := writeAtomic(x.cfg.Path, func(f *os.File) error { return x.graph.Export(f) }); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}
	meta := metadata{Dimension: x.dimension, IDMap: x.idMap, Chunks: x.chunks, NextKey: x.nextKey}
	if err := writeAtomic(x.cfg.Path+".meta", func(f *os.File) error { return gob.NewEncoder(f).Encode(meta) }); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

func (x *Index) load() error {
	mf, err := os.Open(x.cfg.Path + ".meta")
	if err != nil {
		return fmt.Errorf("open metadata: %w", err)
	}
	defer mf.Close()
	var meta metadata
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	gf, err := os.Open(x.cfg.Path)
	if err != nil {
		return fmt.Errorf("open graph: %w", err)
	}
	defer gf.Close()
	// Import needs an io.ByteReader
	if err := x.graph.Import(bufio.NewReader(gf)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	x.dimension = meta.Dimension
	if meta.IDMap != nil {
		x.idMap = meta.IDMap
	}
	if meta.Chunks != nil {
		x.chunks = meta.Chunks
	}
	x.nextKey = meta.NextKey
	x.keyMap = make(map[uint64]string, len(x.idMap))
	for id, key := range x.idMap {
		x.keyMap[key] = id
	}
	return nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
