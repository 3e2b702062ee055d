package offsite

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultQueue = 16
	maxAttempts  = 4
)

// Uploader is the part of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	Enqueued      uint64 `json:"enqueued"`
	Dropped       uint64 `json:"dropped"`
	Uploaded      uint64 `json:"uploaded"`
	Failed        uint64 `json:"failed"`
	LastSuccessMs int64  `json:"last_success_ms"`
}

type job struct {
	key    string
	staged string
}

// Mirror uploads checkpoints from a single worker. The live snapshot file
// is rewritten in place on every save, so Enqueue copies it to a staging
// file first and the worker uploads the copy.
type Mirror struct {
	up      Uploader
	prefix  string
	staging string
	log     *zap.Logger
	backoff time.Duration

	jobs chan job
	wg   sync.WaitGroup
	once sync.Once

	enqueued    atomic.Uint64
	dropped     atomic.Uint64
	uploaded    atomic.Uint64
	failed      atomic.Uint64
	lastSuccess atomic.Int64
}

func NewMirror(up Uploader, prefix, stagingDir string, log *zap.Logger) (*Mirror, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, err
	}
	m := &Mirror{
		up:      up,
		prefix:  strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		staging: stagingDir,
		log:     log.Named("offsite"),
		backoff: 200 * time.Millisecond,
		jobs:    make(chan job, defaultQueue),
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for j := range m.jobs {
			m.upload(j)
		}
	}()
	return m, nil
}

// Key is the object key for a save id.
func (m *Mirror) Key(saveID string) string {
	return path.Join(m.prefix, "checkpoints", saveID+".snap.zst")
}

// Enqueue stages a copy of the checkpoint at localPath and queues it. A
// full queue drops the checkpoint; the next one supersedes it anyway.
func (m *Mirror) Enqueue(saveID, localPath string) error {
	if m == nil {
		return nil
	}
	m.enqueued.Add(1)
	staged := filepath.Join(m.staging, saveID+".snap.zst")
	if err := copyFile(localPath, staged); err != nil {
		m.dropped.Add(1)
		return fmt.Errorf("offsite: stage %s: %w", saveID, err)
	}
	select {
	case m.jobs <- job{key: m.Key(saveID), staged: staged}:
		return nil
	default:
		m.dropped.Add(1)
		_ = os.Remove(staged)
		m.log.Warn("queue full, checkpoint not mirrored", zap.String("save_id", saveID))
		return nil
	}
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(m.jobs),
		Enqueued:      m.enqueued.Load(),
		Dropped:       m.dropped.Load(),
		Uploaded:      m.uploaded.Load(),
		Failed:        m.failed.Load(),
		LastSuccessMs: m.lastSuccess.Load(),
	}
}

// Close drains queued uploads.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() { close(m.jobs) })
	m.wg.Wait()
}

func (m *Mirror) upload(j job) {
	defer os.Remove(j.staged)
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.up.PutFile(ctx, j.key, j.staged)
		cancel()
		if err == nil {
			break
		}
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * m.backoff)
		}
	}
	if err != nil {
		m.failed.Add(1)
		m.log.Error("upload failed", zap.String("key", j.key), zap.Error(err))
		return
	}
	m.uploaded.Add(1)
	m.lastSuccess.Store(time.Now().UnixMilli())
	m.log.Info("uploaded", zap.String("key", j.key))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
