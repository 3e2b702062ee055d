// Package snapshot reads and writes the persisted inactive population.
//
// File layout: a zstd stream containing one JSON header line followed by a
// gob-encoded tuning fingerprint and a gob-encoded agent list.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"walkersim.dev/internal/sim/tuning"
)

const Version = 1

var (
	ErrNoSnapshot   = errors.New("no snapshot")
	ErrIncompatible = errors.New("snapshot incompatible with current tuning")
)

// IncompatibleError lists the fingerprint fields that differ.
type IncompatibleError struct {
	Fields []string
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrIncompatible, strings.Join(e.Fields, ", "))
}

func (e *IncompatibleError) Is(target error) bool { return target == ErrIncompatible }

type Header struct {
	Version int       `json:"version"`
	SaveID  string    `json:"save_id"`
	SavedAt time.Time `json:"saved_at"`
	Agents  int       `json:"agents"`
}

type AgentRecord struct {
	Health      int
	Pos         [3]float64
	TargetIsPOI bool
	Target      [3]float64
}

type Snapshot struct {
	Header      Header
	Fingerprint tuning.Fingerprint
	Agents      []AgentRecord
}

// Write stores snap at path, replacing any previous file only once the new
// one is complete. The header's save id, timestamp and count are filled in
// and returned along with the compressed size.
func Write(path string, snap Snapshot) (Header, int64, error) {
	h := Header{
		Version: Version,
		SaveID:  uuid.NewString(),
		SavedAt: time.Now().UTC(),
		Agents:  len(snap.Agents),
	}
	snap.Header = h

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return h, 0, err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return h, 0, err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return h, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return h, 0, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return h, 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return h, 0, err
	}
	return h, st.Size(), nil
}

func encode(w io.Writer, snap Snapshot) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	// releases the encoder goroutines on early returns; closing twice is a no-op
	defer enc.Close()
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	ge := gob.NewEncoder(bw)
	if err := ge.Encode(&snap.Fingerprint); err != nil {
		return fmt.Errorf("gob encode fingerprint: %w", err)
	}
	if err := ge.Encode(snap.Agents); err != nil {
		return fmt.Errorf("gob encode agents: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

// Read loads a snapshot and checks it against current. A missing file
// yields ErrNoSnapshot; a fingerprint mismatch yields an *IncompatibleError
// without decoding the agents.
func Read(path string, current tuning.Fingerprint) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snap, ErrNoSnapshot
		}
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()
	br := bufio.NewReaderSize(dec, 256*1024)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &snap.Header); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, &IncompatibleError{Fields: []string{fmt.Sprintf("version %d", snap.Header.Version)}}
	}

	gd := gob.NewDecoder(br)
	if err := gd.Decode(&snap.Fingerprint); err != nil {
		return snap, fmt.Errorf("gob decode fingerprint: %w", err)
	}
	if diff := current.Diff(snap.Fingerprint); len(diff) > 0 {
		return snap, &IncompatibleError{Fields: diff}
	}
	if err := gd.Decode(&snap.Agents); err != nil {
		return snap, fmt.Errorf("gob decode agents: %w", err)
	}
	if len(snap.Agents) != snap.Header.Agents {
		return snap, fmt.Errorf("agent count %d does not match header %d", len(snap.Agents), snap.Header.Agents)
	}
	return snap, nil
}
