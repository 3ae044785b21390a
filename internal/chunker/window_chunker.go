package chunker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ragqa/internal/domain"
)

// Default window parameters.
const (
	DefaultChunkSize = 500
	DefaultOverlap   = 0
)

// Options sets the window width and the overlap between consecutive windows, in characters.
type Options struct {
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	Overlap   int `yaml:"overlap" json:"overlap"`
}

// DefaultOptions returns the default window parameters.
func DefaultOptions() Options {
	return Options{ChunkSize: DefaultChunkSize, Overlap: DefaultOverlap}
}

// Validate rejects parameters that cannot produce a forward-moving window.
func (o Options) Validate() error {
	switch {
	case o.ChunkSize <= 0:
		return domain.NewError(domain.StageConfiguration, domain.ErrInvalidConfiguration,
			fmt.Sprintf("chunk size must be greater than zero, got %d", o.ChunkSize), nil)
	case o.Overlap < 0:
		return domain.NewError(domain.StageConfiguration, domain.ErrInvalidConfiguration,
			fmt.Sprintf("overlap must be zero or greater, got %d", o.Overlap), nil)
	case o.Overlap >= o.ChunkSize:
		return domain.NewError(domain.StageConfiguration, domain.ErrInvalidConfiguration,
			fmt.Sprintf("overlap (%d) must be smaller than chunk size (%d)", o.Overlap, o.ChunkSize), nil)
	}
	return nil
}

// WindowChunker splits normalized text into fixed-width character windows.
type WindowChunker struct {
	opts Options
	now  func() time.Time
}

// NewWindowChunker validates opts and returns a chunker bound to them.
func NewWindowChunker(opts Options) (*WindowChunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &WindowChunker{opts: opts, now: time.Now}, nil
}

// Chunk implements domain.Chunker.
func (c *WindowChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	chunks := split(document.RawText, document.SourceName, c.opts, c.now())
	for i := range chunks {
		chunks[i].DocumentID = document.ID
	}
	return chunks, nil
}

// Split normalizes rawText and cuts it into windows of chunkSize characters,
// advancing chunkSize-overlap characters per step. Empty input yields no chunks.
func Split(rawText, sourceName string, chunkSize, overlap int) ([]domain.Chunk, error) {
	opts := Options{ChunkSize: chunkSize, Overlap: overlap}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return split(rawText, sourceName, opts, time.Now()), nil
}

// Normalize collapses every whitespace run to a single space and trims the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func split(rawText, sourceName string, opts Options, generatedAt time.Time) []domain.Chunk {
	runes := []rune(Normalize(rawText))
	if len(runes) == 0 {
		return nil
	}
	step := opts.ChunkSize - opts.Overlap
	stamp := strconv.FormatInt(generatedAt.UnixNano(), 36)

	chunks := make([]domain.Chunk, 0, len(runes)/step+1)
	idx := 0
	for start := 0; start < len(runes); start += step {
		end := start + opts.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, domain.Chunk{
			ID:            chunkID(sourceName, stamp, idx),
			Text:          string(runes[start:end]),
			SequenceIndex: idx,
			SourceName:    sourceName,
		})
		idx++
		// Windows start at multiples of step. Once one reaches the end, every
		// later start would yield a suffix of it, so those windows are skipped.
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func chunkID(sourceName, stamp string, idx int) string {
	return sourceName + ":" + stamp + ":" + strconv.Itoa(idx)
}
