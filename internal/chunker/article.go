package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"greenrag/internal/domain"
)

// ArticlePattern matches a regulation article marker such as "Article 7".
const ArticlePattern = `Article\s+\d+`

// ArticleChunker splits a page at every article marker.
// Text before the first marker on a page is dropped. Cross-references
// like "see Article 5" also start a new segment.
type ArticleChunker struct {
	marker *regexp.Regexp
}

func NewArticleChunker() *ArticleChunker {
	return &ArticleChunker{marker: regexp.MustCompile(ArticlePattern)}
}

func (c *ArticleChunker) Name() string { return "article" }

func (c *ArticleChunker) Chunk(doc domain.SourceDocument) ([]domain.Chunk, error) {
	if !utf8.ValidString(doc.Text) {
		return nil, fmt.Errorf("%w: page %d is not valid UTF-8", domain.ErrSegmentationFault, doc.Page)
	}
	locs := c.marker.FindAllStringIndex(doc.Text, -1)
	if len(locs) == 0 {
		return nil, nil
	}
	chunks := make([]domain.Chunk, 0, len(locs))
	for i, loc := range locs {
		end := len(doc.Text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		content := strings.TrimSpace(doc.Text[loc[0]:end])
		if content == "" {
			continue
		}
		article := doc.Text[loc[0]:loc[1]]
		chunks = append(chunks, domain.NewChunk(content, doc.Page, article))
	}
	return chunks, nil
}
