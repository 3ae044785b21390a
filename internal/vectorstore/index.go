package vectorstore

import (
	"context"
	"math"

	"ragqa/internal/domain"
)

// Record is a chunk together with its embedding.
type Record struct {
	Chunk  domain.Chunk
	Vector []float32
}

// Hit is a stored chunk matched by a similarity search. Score is cosine similarity.
type Hit struct {
	Chunk domain.Chunk
	Score float64
}

// Index persists vectors and supports similarity search.
// Upsert overwrites records whose chunk id already exists.
type Index interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, topK int) ([]Hit, error)
	// Existing returns the subset of ids already present in the index.
	Existing(ctx context.Context, ids []string) ([]string, error)
	// DeleteDocument removes every record of the document. Unknown ids are not an error.
	DeleteDocument(ctx context.Context, documentID string) error
	Name() string
	Close() error
}

// Cosine returns the cosine similarity of a and b, 0 when either is a zero vector.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
