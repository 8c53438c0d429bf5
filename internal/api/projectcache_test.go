package api

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProjectCacheStoreAndLookupHitsOnMatchingHash(t *testing.T) {
	c := newProjectCache()
	hash := contentHash("\\documentclass{article}", "pdflatex")

	_, _, ok := c.lookup("proj-1", hash)
	require.False(t, ok)

	c.store("proj-1", hash, []byte("%PDF-1.5"), "deadbeef")

	pdf, sha, ok := c.lookup("proj-1", hash)
	require.True(t, ok)
	require.Equal(t, []byte("%PDF-1.5"), pdf)
	require.Equal(t, "deadbeef", sha)
}

func TestProjectCacheLookupMissesOnChangedSource(t *testing.T) {
	c := newProjectCache()
	oldHash := contentHash("v1", "pdflatex")
	newHash := contentHash("v2", "pdflatex")

	c.store("proj-1", oldHash, []byte("old-pdf"), "old-sha")

	_, _, ok := c.lookup("proj-1", newHash)
	require.False(t, ok)
}

func TestProjectCacheLockUnlockIsNoopForEmptyProjectID(t *testing.T) {
	c := newProjectCache()
	c.LockProject("")
	c.UnlockProject("")
}

func TestProjectCacheEvictsOldestWhenFull(t *testing.T) {
	c := newProjectCache()
	for i := 0; i < maxCachedProjects+1; i++ {
		id := contentHash("project", string(rune(i)))
		c.store(id, id, []byte("pdf"), "sha")
	}
	require.LessOrEqual(t, len(c.entries), maxCachedProjects)
}
