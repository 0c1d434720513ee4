package memory_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit-examples/kitt-agent/internal/memory"
	"github.com/livekit-examples/kitt-agent/internal/types"
)

func TestSnapshotIsAppendOnlyAndOrdered(t *testing.T) {
	m := memory.New()
	m.AppendPresence("Ada", true)
	m.AppendSpeech("Ada", "hello", false)
	m.AppendSpeech("", "hi there", true)

	snap := m.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, types.EventPresence, snap[0].Kind)
	require.Equal(t, "hello", snap[1].Text)
	require.True(t, snap[2].IsBot)

	// mutating a prior snapshot must not affect the live memory.
	snap[1].Text = "tampered"
	require.Equal(t, "hello", m.Snapshot()[1].Text)
}

func TestAppendAssignsUniqueIDs(t *testing.T) {
	m := memory.New()
	a := m.AppendSpeech("Ada", "hello", false)
	b := m.AppendPresence("Bob", true)

	require.NotEmpty(t, a.ID)
	require.NotEmpty(t, b.ID)
	require.NotEqual(t, a.ID, b.ID)
}

func TestConcurrentAppendsAreSafe(t *testing.T) {
	m := memory.New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.AppendSpeech("p", "x", false)
		}()
	}
	wg.Wait()
	require.Len(t, m.Snapshot(), 50)
}
