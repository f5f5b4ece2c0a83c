package dbutil

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFinalizeRebindsPlaceholders(t *testing.T) {
	query, args := Finalize("SELECT id FROM articles WHERE feed_id = ? AND ctime >= ?", []interface{}{"f1", int64(100)})
	require.Equal(t, "SELECT id FROM articles WHERE feed_id = $1 AND ctime >= $2", query)
	require.Equal(t, []interface{}{"f1", int64(100)}, args)
}

func TestFinalizeRewritesMySQLLimit(t *testing.T) {
	query, args := Finalize("SELECT id FROM clusters WHERE expires_at > ? LIMIT ?,?", []interface{}{int64(100), 10, 20})
	require.Equal(t, "SELECT id FROM clusters WHERE expires_at > $1 LIMIT $2 OFFSET $3", query)
	// gendry emits offset before count; the rewrite swaps them.
	require.Equal(t, []interface{}{int64(100), 20, 10}, args)
}

func TestIsConflict(t *testing.T) {
	require.False(t, IsConflict(nil))
	require.False(t, IsConflict(fmt.Errorf("timeout")))
	require.True(t, IsConflict(fmt.Errorf("constraint failed: UNIQUE constraint failed: articles.id")))
}
