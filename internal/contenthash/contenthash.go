// Package contenthash decides whether an article's embedding is stale.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/takln/trendfeed/internal/model"
)

// PrepareInput builds the exact text that gets embedded for an article.
// The result is deterministic: trimmed title, then a blank line, then the
// trimmed excerpt. An empty excerpt yields the trimmed title alone.
func PrepareInput(title string, excerpt string) string {
	t := strings.TrimSpace(title)
	e := strings.TrimSpace(excerpt)
	if e == "" {
		return t
	}
	return t + "\n\n" + e
}

// Hash returns a stable fingerprint of the embedding input.
func Hash(title string, excerpt string) string {
	sum := sha256.Sum256([]byte(PrepareInput(title, excerpt)))
	return hex.EncodeToString(sum[:])
}

// NeedsUpdate reports whether the article's stored embedding no longer
// reflects its current title and excerpt. Safe to call any number of times.
func NeedsUpdate(article *model.Article) bool {
	if len(article.Embedding) == 0 {
		return true
	}
	if article.EmbeddingStatus != model.EmbeddingStatusCompleted {
		return true
	}
	if article.ContentHash == "" {
		return true
	}
	return article.ContentHash != Hash(article.Title, article.Excerpt)
}
