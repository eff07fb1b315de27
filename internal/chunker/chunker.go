// Package chunker splits source files and issue threads into bounded
// text chunks, the unit of indexing and retrieval.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedContent is returned when the input is not decodable text
// (invalid UTF-8 or embedded NUL bytes). Callers skip the offending unit.
var ErrUnsupportedContent = errors.New("unsupported content")

// Chunk is a contiguous slice of text from one source unit.
// Start/End are byte offsets into the original text; consecutive chunks
// may overlap by the configured stride.
type Chunk struct {
	ID     string `json:"id"`
	Repo   string `json:"repo"`
	Source string `json:"source"` // file path or "issue-<number>"
	Index  int    `json:"index"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Text   string `json:"text"`
}

// Config controls chunk sizing. All sizes are in bytes.
type Config struct {
	MaxSize int // maximum chunk length (default: 2000)
	MinSize int // pieces below this are merged with a neighbor (default: 200)
	Overlap int // stride carried over from the previous chunk (default: 160)
}

// DefaultConfig returns chunk sizing roughly equivalent to 400-token
// chunks with 40-token overlap.
func DefaultConfig() Config {
	return Config{MaxSize: 2000, MinSize: 200, Overlap: 160}
}

// Chunker splits text on line boundaries into bounded pieces.
// Identical input always yields an identical chunk sequence.
type Chunker struct {
	maxSize int
	minSize int
	overlap int
}

// New creates a Chunker, applying defaults for unset fields.
func New(cfg Config) *Chunker {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = def.MinSize
	}
	if cfg.MinSize > cfg.MaxSize {
		cfg.MinSize = cfg.MaxSize
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	if cfg.Overlap >= cfg.MaxSize {
		cfg.Overlap = cfg.MaxSize / 2
	}
	return &Chunker{maxSize: cfg.MaxSize, minSize: cfg.MinSize, overlap: cfg.Overlap}
}

// Chunk splits text into chunks no larger than MaxSize, preferring line
// boundaries. Empty input yields an empty sequence. Non-decodable input
// fails with ErrUnsupportedContent.
func (c *Chunker) Chunk(repo, source, text string) ([]Chunk, error) {
	if text == "" {
		return nil, nil
	}
	if !utf8.ValidString(text) || strings.ContainsRune(text, 0) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContent, source)
	}

	ends := c.segment(text)
	ends = c.mergeSmall(text, ends)

	chunks := make([]Chunk, 0, len(ends))
	start := 0
	for i, end := range ends {
		from := start
		if i > 0 && c.overlap > 0 {
			from = runeFloor(text, start-c.overlap)
		}
		chunks = append(chunks, Chunk{
			ID:     fmt.Sprintf("%s#%d", source, i),
			Repo:   repo,
			Source: source,
			Index:  i,
			Start:  from,
			End:    end,
			Text:   text[from:end],
		})
		start = end
	}
	return chunks, nil
}

// segment returns the end offsets of contiguous, non-overlapping pieces
// covering text, each no larger than maxSize minus the overlap headroom.
func (c *Chunker) segment(text string) []int {
	// Leave room so the overlap prefix never pushes a chunk past maxSize.
	limit := c.maxSize - c.overlap
	if limit <= 0 {
		limit = c.maxSize
	}

	var ends []int
	pieceStart := 0
	pos := 0
	for pos < len(text) {
		nl := strings.IndexByte(text[pos:], '\n')
		var lineEnd int
		if nl < 0 {
			lineEnd = len(text)
		} else {
			lineEnd = pos + nl + 1
		}

		if lineEnd-pieceStart > limit {
			if pos > pieceStart {
				// Close the current piece before this line.
				ends = append(ends, pos)
				pieceStart = pos
			}
			// A single line longer than the limit is split hard,
			// backing off to rune boundaries.
			for lineEnd-pieceStart > limit {
				cut := runeFloor(text, pieceStart+limit)
				if cut <= pieceStart {
					cut = pieceStart + limit // degenerate: oversized rune run
				}
				ends = append(ends, cut)
				pieceStart = cut
			}
			pos = lineEnd
			continue
		}
		pos = lineEnd
	}
	if pieceStart < len(text) {
		ends = append(ends, len(text))
	}
	return ends
}

// mergeSmall keeps tiny tail pieces out of the index: a trailing piece
// below minSize is folded into its predecessor when the combined piece
// still fits, otherwise the final two pieces are rebalanced around their
// midpoint. A sole piece is always kept as-is.
func (c *Chunker) mergeSmall(text string, ends []int) []int {
	if len(ends) < 2 {
		return ends
	}
	limit := c.maxSize - c.overlap
	if limit <= 0 {
		limit = c.maxSize
	}
	last := ends[len(ends)-1]
	prev := ends[len(ends)-2]
	if last-prev >= c.minSize {
		return ends
	}
	var prevStart int
	if len(ends) >= 3 {
		prevStart = ends[len(ends)-3]
	}
	if last-prevStart <= limit {
		return append(ends[:len(ends)-2], last)
	}
	// Each rebalanced half stays within limit because the previous piece
	// did and the tail is below minSize.
	mid := runeFloor(text, prevStart+(last-prevStart+1)/2)
	if mid > prevStart && mid < last && last-mid <= limit && mid-prevStart <= limit {
		ends[len(ends)-2] = mid
	}
	return ends
}

// runeFloor returns the largest offset <= i that starts a rune.
func runeFloor(s string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
