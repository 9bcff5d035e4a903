package chunker

import (
	"regexp"
	"strings"

	"greenrag/internal/domain"
)

// DefaultSentencesPerChunk is used when the configured group size is not positive.
const DefaultSentencesPerChunk = 5

// sentencePattern matches a run ending in terminal punctuation, or the
// unterminated tail of a page (headings, list items cut by a page break).
var sentencePattern = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)

// SentenceChunker groups page sentences into overlapping windows.
// Like WindowChunker, its chunks carry the page but no article.
type SentenceChunker struct {
	perChunk int
	overlap  int
}

func NewSentenceChunker(sentencesPerChunk, overlapSentences int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = DefaultSentencesPerChunk
	}
	// Overlap must leave room to advance.
	if overlapSentences < 0 || overlapSentences >= sentencesPerChunk {
		overlapSentences = 0
	}
	return &SentenceChunker{perChunk: sentencesPerChunk, overlap: overlapSentences}
}

func (c *SentenceChunker) Name() string { return "sentence" }

func (c *SentenceChunker) Chunk(doc domain.SourceDocument) ([]domain.Chunk, error) {
	sentences := splitSentences(doc.Text)
	if len(sentences) == 0 {
		return nil, nil
	}
	step := c.perChunk - c.overlap
	chunks := make([]domain.Chunk, 0, len(sentences)/step+1)
	for start := 0; start < len(sentences); start += step {
		end := min(start+c.perChunk, len(sentences))
		chunks = append(chunks, domain.NewChunk(strings.Join(sentences[start:end], " "), doc.Page, ""))
		if end == len(sentences) {
			break
		}
	}
	return chunks, nil
}

// splitSentences returns the trimmed, non-empty sentences of text with
// internal whitespace collapsed.
func splitSentences(text string) []string {
	var out []string
	for _, s := range sentencePattern.FindAllString(text, -1) {
		if s = strings.Join(strings.Fields(s), " "); s != "" {
			out = append(out, s)
		}
	}
	return out
}
