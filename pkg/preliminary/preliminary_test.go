package preliminary

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames_Unique(t *testing.T) {
	names := NewNames()
	seen := make(map[string]bool)

	for i := 0; i < 1000; i++ {
		n := names.Next()
		require.False(t, seen[n], "duplicate name %s", n)
		seen[n] = true
		assert.True(t, IsPreliminary(n))
		assert.False(t, IsFirstVersion(n))
	}
}

func TestNames_Concurrent(t *testing.T) {
	names := NewNames()
	const workers = 8
	const perWorker = 200

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				n := names.Next()
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestSequence(t *testing.T) {
	seq := NewSequence()
	assert.Equal(t, "pn1", seq.Next())
	assert.Equal(t, "pn2", seq.Next())

	custom := NewSequenceWithPrefix("tx")
	assert.Equal(t, "tx1", custom.Next())
}

func TestSequencesAreIndependent(t *testing.T) {
	a := NewSequence()
	b := NewSequence()
	a.Next()
	a.Next()
	assert.Equal(t, "pn1", b.Next())
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "@pn3", Path("pn3"))
	assert.Equal(t, "@@pn3", FirstVersionPath("pn3"))

	assert.True(t, IsPreliminary("@pn3"))
	assert.True(t, IsPreliminary("@@pn3"))
	assert.True(t, IsFirstVersion("@@pn3"))
	assert.False(t, IsPreliminary("/proposals/p1"))
	assert.False(t, IsPreliminary(""))
}
