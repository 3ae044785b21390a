package retriever

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"ragqa/internal/domain"
)

// DefaultLimit is used when a query carries no limit.
const DefaultLimit = 3

// Retriever runs similarity queries against a vector store and enforces the
// relevance threshold on whatever the store returns.
type Retriever struct {
	store domain.VectorStore
	log   zerolog.Logger
}

// New creates a retriever over store.
func New(store domain.VectorStore, log zerolog.Logger) *Retriever {
	return &Retriever{
		store: store,
		log:   log.With().Str("component", "retriever").Logger(),
	}
}

// Validate normalizes q, applying DefaultLimit, and rejects malformed queries
// with domain.ErrInvalidQuery.
func Validate(q domain.RetrievalQuery) (domain.RetrievalQuery, error) {
	if strings.TrimSpace(q.Text) == "" {
		return q, domain.NewError(domain.StageRetrieval, domain.ErrInvalidQuery, "query text is empty", nil)
	}
	if q.Limit < 0 {
		return q, domain.NewError(domain.StageRetrieval, domain.ErrInvalidQuery, fmt.Sprintf("limit must be positive, got %d", q.Limit), nil)
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if t := q.SimilarityThreshold; t != nil && (*t < 0 || *t > 1) {
		return q, domain.NewError(domain.StageRetrieval, domain.ErrInvalidQuery, fmt.Sprintf("similarity threshold %v outside [0,1]", *t), nil)
	}
	return q, nil
}

// Retrieve returns at most q.Limit units in descending score order, none of
// which score below q.SimilarityThreshold. An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, q domain.RetrievalQuery) ([]domain.RetrievedUnit, error) {
	q, err := Validate(q)
	if err != nil {
		return nil, err
	}
	units, err := r.store.Query(ctx, q.Text, q.Limit, q.SimilarityThreshold)
	if err != nil {
		return nil, classify(err)
	}

	kept := units[:0:0]
	for _, u := range units {
		if math.IsNaN(u.SimilarityScore) {
			u.SimilarityScore = 0
		}
		if t := q.SimilarityThreshold; t != nil && !(u.SimilarityScore >= *t) {
			continue
		}
		kept = append(kept, u)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].SimilarityScore > kept[j].SimilarityScore })
	if len(kept) > q.Limit {
		kept = kept[:q.Limit]
	}
	r.log.Debug().
		Int("returned", len(units)).
		Int("kept", len(kept)).
		Int("limit", q.Limit).
		Msg("retrieved units")
	return kept, nil
}

func classify(err error) error {
	var classified *domain.Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, domain.ErrDuplicateID) {
		return domain.NewError(domain.StageRetrieval, domain.ErrDuplicateID, "", err)
	}
	return domain.NewError(domain.StageRetrieval, domain.ErrStoreUnavailable, "query failed", err)
}
