// Package lexical provides in-memory BM25 search over ingested transcripts,
// complementing the vector search with exact keyword matching.
package lexical

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"
)

// Document is one indexed video transcript.
type Document struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Text    string `json:"text"`
}

// Hit is a ranked lexical match.
type Hit struct {
	VideoID string  `json:"video_id"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// Catalog holds one mem-only bleve index per channel. Indexes are rebuilt
// from stored transcripts on startup, so nothing here needs to persist.
type Catalog struct {
	mu       sync.RWMutex
	channels map[string]*channelIndex
}

type channelIndex struct {
	bleve bleve.Index
	meta  map[string]Document
}

// NewCatalog builds an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{channels: make(map[string]*channelIndex)}
}

// IndexVideo adds or replaces a video's transcript in the channel's index.
func (c *Catalog) IndexVideo(channelID string, doc Document) error {
	if doc.VideoID == "" || doc.Text == "" {
		return fmt.Errorf("document requires video id and text")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ix, ok := c.channels[channelID]
	if !ok {
		index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return fmt.Errorf("create index: %w", err)
		}
		ix = &channelIndex{bleve: index, meta: make(map[string]Document)}
		c.channels[channelID] = ix
	}
	ix.meta[doc.VideoID] = doc
	return ix.bleve.Index(doc.VideoID, doc)
}

// Search runs a BM25 query-string search over a channel's transcripts.
// An unknown channel returns no hits rather than an error.
func (c *Catalog) Search(channelID, q string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}
	c.mu.RLock()
	ix, ok := c.channels[channelID]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := ix.bleve.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Hit
	for i, hit := range res.Hits {
		doc := ix.meta[hit.ID]
		out = append(out, Hit{
			VideoID: hit.ID,
			Title:   doc.Title,
			URL:     doc.URL,
			Snippet: snippet(doc.Text),
			Score:   hit.Score,
			Rank:    i + 1,
		})
	}
	return out, nil
}

// DropChannel discards a channel's index, e.g. after channel deletion.
func (c *Catalog) DropChannel(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ix, ok := c.channels[channelID]; ok {
		_ = ix.bleve.Close()
		delete(c.channels, channelID)
	}
}

func snippet(s string) string {
	if len(s) <= 300 {
		return s
	}
	return s[:300] + "..."
}
