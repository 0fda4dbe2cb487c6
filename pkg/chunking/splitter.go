// Package chunking splits documents into overlapping chunks sized for
// embedding. Boundaries prefer the coarsest separator available inside
// the size budget: paragraph breaks, then line breaks, then sentence
// ends, then word gaps, then a hard cut.
package chunking

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/auhdhd/knowledge-agent/pkg/document"
)

// DefaultSeparators is the boundary preference order, coarsest first.
// The trailing empty string means "cut anywhere" and must stay last.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Config holds splitter settings.
type Config struct {
	ChunkSize    int      `json:"chunk_size"`    // target chunk size in characters
	ChunkOverlap int      `json:"chunk_overlap"` // trailing context carried into the next chunk
	MinChunkSize int      `json:"min_chunk_size"`
	Separators   []string `json:"separators,omitempty"`
}

// DefaultConfig matches the agent's knowledge base defaults.
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:    500,
		ChunkOverlap: 50,
		MinChunkSize: 20,
		Separators:   DefaultSeparators,
	}
}

// Chunk is one embedable slice of a document.
type Chunk struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	Source      string `json:"source"`
	Index       int    `json:"index"`
	Content     string `json:"content"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	CharCount   int    `json:"char_count"`
	WordCount   int    `json:"word_count"`
}

// Stats tracks splitter activity across documents.
type Stats struct {
	Documents        int64         `json:"documents"`
	Chunks           int64         `json:"chunks"`
	AverageChunkSize float64       `json:"average_chunk_size"`
	TotalSplitTime   time.Duration `json:"total_split_time"`
}

// Splitter produces chunks from documents.
type Splitter struct {
	config *Config
	logger *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewSplitter creates a splitter. A nil config gets defaults; a config
// without separators gets DefaultSeparators.
func NewSplitter(config *Config) *Splitter {
	if config == nil {
		config = DefaultConfig()
	}
	if len(config.Separators) == 0 {
		config.Separators = DefaultSeparators
	}
	if config.MinChunkSize <= 0 {
		config.MinChunkSize = 1
	}
	return &Splitter{
		config: config,
		logger: slog.Default().With("component", "splitter"),
	}
}

// Split chunks a document. An empty document yields zero chunks.
func (s *Splitter) Split(doc *document.Document) []Chunk {
	start := time.Now()
	spans := s.splitText(doc.Content)

	chunks := make([]Chunk, 0, len(spans))
	for i, sp := range spans {
		content := strings.TrimSpace(doc.Content[sp.start:sp.end])
		if content == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			// Deterministic per document and position, so re-ingesting
			// the same file upserts in place.
			ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%d", doc.ID, i))).String(),
			DocumentID:  doc.ID,
			Source:      doc.Source,
			Index:       i,
			Content:     content,
			StartOffset: sp.start,
			EndOffset:   sp.end,
			CharCount:   len(content),
			WordCount:   len(strings.Fields(content)),
		})
	}

	s.record(len(chunks), chunks, time.Since(start))
	s.logger.Debug("split document",
		"document_id", doc.ID,
		"chunks", len(chunks),
		"content_length", len(doc.Content),
	)
	return chunks
}

// Stats returns a copy of the accumulated splitter statistics.
func (s *Splitter) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Splitter) record(n int, chunks []Chunk, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Documents++
	prevChunks := s.stats.Chunks
	s.stats.Chunks += int64(n)
	var total float64
	for _, c := range chunks {
		total += float64(c.CharCount)
	}
	if s.stats.Chunks > 0 {
		s.stats.AverageChunkSize = (s.stats.AverageChunkSize*float64(prevChunks) + total) / float64(s.stats.Chunks)
	}
	s.stats.TotalSplitTime += elapsed
}

type span struct {
	start, end int
}

// splitText walks the text producing spans of at most ChunkSize
// characters. Each span after the first begins ChunkOverlap characters
// before the previous break so neighbouring chunks share context.
func (s *Splitter) splitText(text string) []span {
	if text == "" {
		return nil
	}
	size := s.config.ChunkSize
	if len(text) <= size {
		return []span{{0, len(text)}}
	}

	var spans []span
	start := 0
	for start < len(text) {
		if start+size >= len(text) {
			spans = append(spans, span{start, len(text)})
			break
		}
		end := snapToRuneStart(text, start+size)
		if end <= start {
			// A rune wider than the remaining budget still advances.
			_, n := utf8.DecodeRuneInString(text[start:])
			end = start + n
		}
		cut := s.findBreak(text, start, end)
		spans = append(spans, span{start, cut})

		next := snapToRuneStart(text, cut-s.config.ChunkOverlap)
		// Overlap must never stall the walk.
		if next <= start {
			next = cut
		}
		start = next
	}

	return s.mergeShortTail(spans)
}

// findBreak picks the best cut point in (start, limit], preferring the
// coarsest separator that appears in the window. A separator cut that
// would leave a chunk shorter than MinChunkSize falls through to the
// next finer separator. limit must sit on a rune boundary; separator
// cuts always do.
func (s *Splitter) findBreak(text string, start, limit int) int {
	window := text[start:limit]
	for _, sep := range s.config.Separators {
		if sep == "" {
			break
		}
		idx := strings.LastIndex(window, sep)
		if idx > 0 && idx+len(sep) >= s.config.MinChunkSize {
			// Cut after the separator so it stays with the left chunk.
			return start + idx + len(sep)
		}
	}
	// No usable separator in the window: hard cut at the size limit.
	return limit
}

// snapToRuneStart moves a byte offset left onto the nearest rune
// boundary so cuts never split a multi-byte character.
func snapToRuneStart(text string, i int) int {
	if i < 0 {
		return 0
	}
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// mergeShortTail folds a trailing fragment below MinChunkSize into the
// previous span. The merged span may exceed ChunkSize by at most
// MinChunkSize.
func (s *Splitter) mergeShortTail(spans []span) []span {
	if len(spans) < 2 {
		return spans
	}
	last := spans[len(spans)-1]
	if last.end-last.start >= s.config.MinChunkSize {
		return spans
	}
	spans[len(spans)-2].end = last.end
	return spans[:len(spans)-1]
}
