// Package indexdb is a queryable secondary index of population checkpoints
// and agent transitions. Snapshot files and the journal stay the source of
// truth; the index may lose rows when its writer falls behind.
package indexdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"walkersim.dev/internal/sim/population"
	"walkersim.dev/internal/sim/tuning"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"

	queueSize     = 65536
	commitEvery   = 500
	commitMaxWait = time.Second
)

// Checkpoint describes one written snapshot file.
type Checkpoint struct {
	ID          int64              `json:"id"`
	SaveID      string             `json:"save_id"`
	Path        string             `json:"path"`
	SavedAt     time.Time          `json:"saved_at"`
	Agents      int                `json:"agents"`
	Bytes       int64              `json:"bytes"`
	Fingerprint tuning.Fingerprint `json:"fingerprint"`
}

type checkpointRow struct {
	ID          int64  `db:"id"`
	SaveID      string `db:"save_id"`
	Path        string `db:"path"`
	SavedAtMs   int64  `db:"saved_at_ms"`
	Agents      int    `db:"agents"`
	Bytes       int64  `db:"bytes"`
	Fingerprint string `db:"fingerprint"`
}

type Stats struct {
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
	DropTransitionTotal uint64 `json:"drop_transition_total"`
	DropCheckpointTotal uint64 `json:"drop_checkpoint_total"`
	WriteErrorTotal     uint64 `json:"write_error_total"`
}

type reqKind int

const (
	reqTransition reqKind = iota + 1
	reqCheckpoint
	reqSync
)

type req struct {
	kind       reqKind
	transition population.Transition
	checkpoint Checkpoint
	done       chan struct{}
}

type Index struct {
	db      *sqlx.DB
	dialect string
	log     *zap.Logger

	// mu guards closed and every send on ch, so no send races close(ch).
	mu     sync.RWMutex
	closed bool
	ch     chan req
	wg     sync.WaitGroup
	once   sync.Once

	dropTransition  atomic.Uint64
	dropCheckpoint  atomic.Uint64
	writeErrorTotal atomic.Uint64
}

var _ population.Recorder = (*Index)(nil)

func open(ctx context.Context, db *sqlx.DB, dialect string, log *zap.Logger) (*Index, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	ix := &Index{
		db:      db,
		dialect: dialect,
		log:     log.Named("indexdb").With(zap.String("dialect", dialect)),
		ch:      make(chan req, queueSize),
	}
	ix.wg.Add(1)
	go func() {
		defer ix.wg.Done()
		ix.loop()
	}()
	ix.log.Info("opened")
	return ix, nil
}

func (ix *Index) Dialect() string { return ix.dialect }

func (ix *Index) Close() error {
	var err error
	ix.once.Do(func() {
		ix.mu.Lock()
		ix.closed = true
		close(ix.ch)
		ix.mu.Unlock()
		ix.wg.Wait()
		err = ix.db.Close()
	})
	return err
}

// Record queues a transition row. It never blocks.
func (ix *Index) Record(t population.Transition) {
	if ix == nil {
		return
	}
	if !ix.trySend(req{kind: reqTransition, transition: t}) {
		ix.dropTransition.Add(1)
	}
}

// RecordCheckpoint queues a checkpoint row. It never blocks.
func (ix *Index) RecordCheckpoint(c Checkpoint) {
	if ix == nil {
		return
	}
	if !ix.trySend(req{kind: reqCheckpoint, checkpoint: c}) {
		ix.dropCheckpoint.Add(1)
	}
}

// trySend queues r without blocking. It reports false only when the queue
// is full; requests after Close are ignored.
func (ix *Index) trySend(r req) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return true
	}
	select {
	case ix.ch <- r:
		return true
	default:
		return false
	}
}

// Sync waits until everything queued before the call is committed.
func (ix *Index) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := ix.sendSync(ctx, done); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendSync blocks until the writer accepts the request. The writer keeps
// draining ch while the read lock is held, so Close cannot deadlock.
func (ix *Index) sendSync(ctx context.Context, done chan struct{}) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return fmt.Errorf("index closed")
	}
	select {
	case ix.ch <- req{kind: reqSync, done: done}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ix *Index) Stats() Stats {
	return Stats{
		QueueDepth:          len(ix.ch),
		QueueCapacity:       cap(ix.ch),
		DropTransitionTotal: ix.dropTransition.Load(),
		DropCheckpointTotal: ix.dropCheckpoint.Load(),
		WriteErrorTotal:     ix.writeErrorTotal.Load(),
	}
}

// Checkpoints returns up to limit checkpoints, newest first.
func (ix *Index) Checkpoints(ctx context.Context, limit int) ([]Checkpoint, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []checkpointRow
	q := ix.db.Rebind(`SELECT id, save_id, path, saved_at_ms, agents, bytes, fingerprint
		FROM checkpoints ORDER BY saved_at_ms DESC, id DESC LIMIT ?`)
	if err := ix.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	out := make([]Checkpoint, 0, len(rows))
	for _, r := range rows {
		c := Checkpoint{
			ID:      r.ID,
			SaveID:  r.SaveID,
			Path:    r.Path,
			SavedAt: time.UnixMilli(r.SavedAtMs).UTC(),
			Agents:  r.Agents,
			Bytes:   r.Bytes,
		}
		if err := json.Unmarshal([]byte(r.Fingerprint), &c.Fingerprint); err != nil {
			return nil, fmt.Errorf("checkpoint %s fingerprint: %w", r.SaveID, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// TransitionCounts totals indexed transitions per event.
func (ix *Index) TransitionCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Event string `db:"event"`
		N     int64  `db:"n"`
	}
	if err := ix.db.SelectContext(ctx, &rows,
		`SELECT event, COUNT(*) AS n FROM transitions GROUP BY event`); err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Event] = r.N
	}
	return out, nil
}

// AgentHistory returns the indexed transitions of one agent, oldest first.
func (ix *Index) AgentHistory(ctx context.Context, agentID, limit int) ([]population.Transition, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []struct {
		AtMs    int64   `db:"at_ms"`
		AgentID int     `db:"agent_id"`
		Event   string  `db:"event"`
		Detail  string  `db:"detail"`
		X       float64 `db:"x"`
		Y       float64 `db:"y"`
		Z       float64 `db:"z"`
	}
	q := ix.db.Rebind(`SELECT at_ms, agent_id, event, detail, x, y, z
		FROM transitions WHERE agent_id = ? ORDER BY at_ms, id LIMIT ?`)
	if err := ix.db.SelectContext(ctx, &rows, q, agentID, limit); err != nil {
		return nil, fmt.Errorf("query agent %d: %w", agentID, err)
	}
	out := make([]population.Transition, 0, len(rows))
	for _, r := range rows {
		out = append(out, population.Transition{
			Time:    time.UnixMilli(r.AtMs).UTC(),
			AgentID: r.AgentID,
			Event:   r.Event,
			Detail:  r.Detail,
			Pos:     [3]float64{r.X, r.Y, r.Z},
		})
	}
	return out, nil
}

func (ix *Index) loop() {
	ctx := context.Background()
	insertTransition := ix.db.Rebind(`INSERT INTO transitions(at_ms, agent_id, event, detail, x, y, z)
		VALUES(?, ?, ?, ?, ?, ?, ?)`)
	insertCheckpoint := ix.db.Rebind(`INSERT INTO checkpoints(save_id, path, saved_at_ms, agents, bytes, fingerprint)
		VALUES(?, ?, ?, ?, ?, ?)`)

	var (
		tx      *sqlx.Tx
		opCount int
		waiting []chan struct{}
	)
	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	fail := func(what string, err error) {
		ix.writeErrorTotal.Add(1)
		ix.log.Warn("write failed", zap.String("op", what), zap.Error(err))
	}
	commit := func() {
		if tx != nil {
			if err := tx.Commit(); err != nil {
				fail("commit", err)
			}
			tx = nil
			opCount = 0
		}
		for _, d := range waiting {
			close(d)
		}
		waiting = waiting[:0]
	}
	begin := func() bool {
		if tx != nil {
			return true
		}
		t, err := ix.db.BeginTxx(ctx, nil)
		if err != nil {
			fail("begin", err)
			return false
		}
		tx = t
		return true
	}
	exec := func(what, q string, args ...any) {
		if !begin() {
			return
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			fail(what, err)
			_ = tx.Rollback()
			tx = nil
			opCount = 0
			return
		}
		opCount++
		if opCount >= commitEvery {
			commit()
		}
	}

	for {
		select {
		case r, ok := <-ix.ch:
			if !ok {
				commit()
				return
			}
			switch r.kind {
			case reqTransition:
				t := r.transition
				exec("transition", insertTransition,
					t.Time.UnixMilli(), t.AgentID, t.Event, t.Detail, t.Pos[0], t.Pos[1], t.Pos[2])
			case reqCheckpoint:
				c := r.checkpoint
				fp, err := json.Marshal(c.Fingerprint)
				if err != nil {
					fail("checkpoint", err)
					continue
				}
				exec("checkpoint", insertCheckpoint,
					c.SaveID, c.Path, c.SavedAt.UnixMilli(), c.Agents, c.Bytes, string(fp))
			case reqSync:
				waiting = append(waiting, r.done)
				commit()
			}
		case <-ticker.C:
			commit()
		}
	}
}
