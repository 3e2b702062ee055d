// Package journal keeps a compressed, append-only record of agent
// lifecycle transitions next to the population snapshots.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"walkersim.dev/internal/sim/population"
)

const (
	Prefix     = "journal"
	bufferSize = 8192
	flushEvery = 2 * time.Second
)

// Journal is a population.Recorder that hands transitions to a writer
// goroutine. Record never blocks; transitions are dropped while the
// writer is behind.
type Journal struct {
	w   *HourlyWriter
	log *zap.Logger

	// mu guards closed and every send on ch.
	mu      sync.RWMutex
	closed  bool
	ch      chan population.Transition
	wg      sync.WaitGroup
	once    sync.Once
	written atomic.Uint64
	dropped atomic.Uint64
}

var _ population.Recorder = (*Journal)(nil)

// Open starts a journal writing under dir.
func Open(dir string, log *zap.Logger) (*Journal, error) {
	if dir == "" {
		return nil, fmt.Errorf("journal: empty dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	j := &Journal{
		w:   NewHourlyWriter(dir, Prefix),
		log: log.Named("journal"),
		ch:  make(chan population.Transition, bufferSize),
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.loop()
	}()
	return j, nil
}

func (j *Journal) Record(t population.Transition) {
	if j == nil {
		return
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.ch <- t:
	default:
		j.dropped.Add(1)
	}
}

func (j *Journal) Written() uint64 { return j.written.Load() }

func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Close drains pending transitions and closes the current file.
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		j.mu.Lock()
		j.closed = true
		close(j.ch)
		j.mu.Unlock()
		j.wg.Wait()
		err = j.w.Close()
		j.log.Info("closed",
			zap.Uint64("written", j.written.Load()),
			zap.Uint64("dropped", j.dropped.Load()))
	})
	return err
}

func (j *Journal) loop() {
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()
	failing := false
	for {
		select {
		case t, ok := <-j.ch:
			if !ok {
				return
			}
			if err := j.w.Write(t); err != nil {
				if !failing {
					j.log.Error("write failed", zap.Error(err))
				}
				failing = true
				continue
			}
			failing = false
			j.written.Add(1)
		case <-ticker.C:
			if err := j.w.Flush(); err != nil {
				j.log.Warn("flush failed", zap.Error(err))
			}
		}
	}
}

// ReadFile decodes every transition in one journal file.
func ReadFile(path string) ([]population.Transition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []population.Transition
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var t population.Transition
		if err := json.Unmarshal(sc.Bytes(), &t); err != nil {
			return out, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		out = append(out, t)
	}
	return out, sc.Err()
}

// Files lists the journal files under dir, oldest first.
func Files(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, Prefix+"-*.jsonl.zst"))
}
