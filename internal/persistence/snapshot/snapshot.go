// Package snapshot persists the session state (current scene tree and game
// state) so a restarted server can resume where it stopped.
package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"scenekeeper.ai/internal/scene/loader"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	Tick    uint64 `json:"tick"`
	SavedAt string `json:"saved_at"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Scene string `json:"scene,omitempty"`
	World string `json:"world"`
	Gui   string `json:"gui"`

	// Tree is the live scene as it was, nil when no scene was attached.
	Tree *loader.Definition `json:"tree,omitempty"`
}

// PathFor names the snapshot for tick saved at savedAt inside dir.
func PathFor(dir string, tick uint64, savedAt time.Time) string {
	stamp := savedAt.UTC().Format("20060102T150405.000000000Z")
	return filepath.Join(dir, stamp+"-"+strconv.FormatUint(tick, 10)+".snap.zst")
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, snap SnapshotV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			_ = enc.Close()
		}
	}()

	bw := bufio.NewWriterSize(enc, 64*1024)
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := json.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	closed = true
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// The header line is repeated in the body; tools can stop after it.
	_, _ = br.ReadBytes('\n')

	if err := json.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the header line of the snapshot at path.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// Latest returns the most recently saved snapshot in dir, or "" when there
// is none. Snapshots are ranked by their header's saved_at, then tick;
// unreadable files are skipped.
func Latest(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var (
		best     string
		bestAt   time.Time
		bestTick uint64
	)
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		h, err := ReadHeader(path)
		if err != nil || h.Version != Version {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, h.SavedAt)
		if err != nil {
			continue
		}
		if best == "" || at.After(bestAt) || (at.Equal(bestAt) && h.Tick > bestTick) {
			best, bestAt, bestTick = path, at, h.Tick
		}
	}
	return best
}
