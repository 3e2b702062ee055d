package indexdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"walkersim.dev/internal/sim/population"
	"walkersim.dev/internal/sim/tuning"
)

func openTemp(t *testing.T) *Index {
	t.Helper()
	ix, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "index", "walkersim.sqlite"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestCheckpoints_NewestFirst(t *testing.T) {
	ctx := context.Background()
	ix := openTemp(t)
	fp := tuning.Defaults().Fingerprint()
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ix.RecordCheckpoint(Checkpoint{
			SaveID:      "save-" + string(rune('a'+i)),
			Path:        "/data/population.snap.zst",
			SavedAt:     base.Add(time.Duration(i) * time.Minute),
			Agents:      100 + i,
			Bytes:       4096,
			Fingerprint: fp,
		})
	}
	require.NoError(t, ix.Sync(ctx))

	got, err := ix.Checkpoints(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "save-c", got[0].SaveID)
	assert.Equal(t, 102, got[0].Agents)
	assert.Equal(t, base.Add(2*time.Minute), got[0].SavedAt)
	assert.Equal(t, fp, got[0].Fingerprint)
	assert.Equal(t, "save-b", got[1].SaveID)
}

func TestTransitions(t *testing.T) {
	ctx := context.Background()
	ix := openTemp(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	events := []string{population.EventActivated, population.EventDespawned, population.EventActivated, population.EventDied}
	for i, ev := range events {
		ix.Record(population.Transition{
			Time:    now.Add(time.Duration(i) * time.Second),
			AgentID: 7,
			Event:   ev,
			Pos:     [3]float64{1, 2, 3},
		})
	}
	ix.Record(population.Transition{Time: now, AgentID: 8, Event: population.EventSpawnFailed, Detail: "chunk not loaded"})
	require.NoError(t, ix.Sync(ctx))

	counts, err := ix.TransitionCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		population.EventActivated:   2,
		population.EventDespawned:   1,
		population.EventDied:        1,
		population.EventSpawnFailed: 1,
	}, counts)

	hist, err := ix.AgentHistory(ctx, 7, 0)
	require.NoError(t, err)
	require.Len(t, hist, 4)
	assert.Equal(t, population.EventDied, hist[3].Event)
	assert.Equal(t, now, hist[0].Time)
	assert.Equal(t, [3]float64{1, 2, 3}, hist[0].Pos)

	hist, err = ix.AgentHistory(ctx, 8, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "chunk not loaded", hist[0].Detail)
}

func TestReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "walkersim.sqlite")
	ix, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	ix.RecordCheckpoint(Checkpoint{SaveID: "x", SavedAt: time.Now(), Fingerprint: tuning.Defaults().Fingerprint()})
	require.NoError(t, ix.Close())
	require.NoError(t, ix.Close())

	ix, err = OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	defer ix.Close()
	got, err := ix.Checkpoints(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].SaveID)
}

func TestRecord_DropsWhenFull(t *testing.T) {
	ix := &Index{ch: make(chan req, 1)}
	ix.Record(population.Transition{})
	ix.Record(population.Transition{})
	ix.RecordCheckpoint(Checkpoint{})

	st := ix.Stats()
	assert.Equal(t, uint64(1), st.DropTransitionTotal)
	assert.Equal(t, uint64(1), st.DropCheckpointTotal)
	assert.Equal(t, 1, st.QueueDepth)
	assert.Equal(t, 1, st.QueueCapacity)
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestRecord_ConcurrentWithClose(t *testing.T) {
	ix, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "race.sqlite"), zaptest.NewLogger(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			<-start
			for i := 0; i < 500; i++ {
				ix.Record(population.Transition{AgentID: g*1000 + i, Event: population.EventActivated})
				if i%100 == 0 {
					ix.RecordCheckpoint(Checkpoint{SaveID: fmt.Sprintf("s-%d-%d", g, i)})
				}
			}
		}(g)
	}
	close(start)
	require.NoError(t, ix.Close())
	wg.Wait()

	assert.Error(t, ix.Sync(context.Background()))
	ix.Record(population.Transition{})
}
