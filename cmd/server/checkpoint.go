package main

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"walkersim.dev/internal/persistence/indexdb"
	"walkersim.dev/internal/persistence/offsite"
	"walkersim.dev/internal/persistence/snapshot"
	"walkersim.dev/internal/sim/population"
)

// checkpointer serializes snapshot writes coming from the scheduler timer,
// the admin endpoint and shutdown.
type checkpointer struct {
	sim    *population.Simulation
	path   string
	idx    *indexdb.Index
	mirror *offsite.Mirror
	log    *zap.Logger

	mu   sync.Mutex
	last snapshot.Header
}

func (c *checkpointer) Save() (snapshot.Header, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	h, size, err := c.sim.Checkpoint(c.path)
	if err != nil {
		c.log.Error("checkpoint failed", zap.String("path", c.path), zap.Error(err))
		return h, 0, err
	}
	c.last = h
	c.log.Info("checkpoint written",
		zap.String("save_id", h.SaveID),
		zap.Int("agents", h.Agents),
		zap.String("size", humanize.Bytes(uint64(size))),
		zap.Duration("took", time.Since(start)))
	c.idx.RecordCheckpoint(indexdb.Checkpoint{
		SaveID:      h.SaveID,
		Path:        c.path,
		SavedAt:     h.SavedAt,
		Agents:      h.Agents,
		Bytes:       size,
		Fingerprint: c.sim.Tuning().Fingerprint(),
	})
	if err := c.mirror.Enqueue(h.SaveID, c.path); err != nil {
		c.log.Warn("offsite mirror skipped", zap.Error(err))
	}
	return h, size, nil
}

// Last is the header of the most recent successful checkpoint.
func (c *checkpointer) Last() snapshot.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// recorders fans a transition out to every non-nil recorder.
type recorders []population.Recorder

func (rs recorders) Record(t population.Transition) {
	for _, r := range rs {
		r.Record(t)
	}
}
