package journal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"paddlearena/gameserver/internal/pong"
)

func TestRecorderPersistsEventsAndFrames(t *testing.T) {
	root := t.TempDir()
	archive := NewArchive(root, 60)

	journal, err := archive.Open("match/../one")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	recorder, ok := journal.(*Recorder)
	if !ok {
		t.Fatalf("expected *Recorder, got %T", journal)
	}

	//1.- Record a lifecycle event plus enough frames to force a batch flush.
	journal.Event(0, "matchStarted", map[string]string{"match": "one"})
	for tick := uint64(1); tick <= frameBatchSize+3; tick++ {
		journal.Frame(tick, pong.Snapshot{XBall: 0.5, YBall: 0.5, ScoreL: int(tick)})
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	dir := recorder.Directory()
	if filepath.Dir(dir) != root {
		t.Fatalf("bundle %q not created under %q", dir, root)
	}

	//2.- The manifest must name the sibling artefacts and carry the tick rate.
	raw, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.TickRate != 60 || manifest.Events != "events.jsonl.sz" || manifest.Frames != "frames.bin.zst" {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}

	events := readEvents(t, filepath.Join(dir, manifest.Events))
	if len(events) != 1 || events[0].Type != "matchStarted" {
		t.Fatalf("unexpected events: %+v", events)
	}

	frames := readFrames(t, filepath.Join(dir, manifest.Frames))
	if len(frames) != frameBatchSize+3 {
		t.Fatalf("expected %d frames, got %d", frameBatchSize+3, len(frames))
	}
	if frames[0].tick != 1 || frames[len(frames)-1].tick != frameBatchSize+3 {
		t.Fatalf("frame ticks out of order: first=%d last=%d", frames[0].tick, frames[len(frames)-1].tick)
	}
	var last pong.Snapshot
	if err := json.Unmarshal(frames[len(frames)-1].payload, &last); err != nil {
		t.Fatalf("decode frame payload: %v", err)
	}
	if last.ScoreL != frameBatchSize+3 {
		t.Fatalf("frame payload mismatch: %+v", last)
	}
}

func TestRecorderCloseIsIdempotent(t *testing.T) {
	archive := NewArchive(t.TempDir(), 60)
	journal, err := archive.Open("twice")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	//1.- Writes after close must be silently dropped, not crash.
	journal.Event(9, "late", nil)
	journal.Frame(9, pong.Snapshot{})
}

func TestArchiveRequiresRoot(t *testing.T) {
	archive := NewArchive("", 60)
	if _, err := archive.Open("match"); err == nil {
		t.Fatal("expected error for empty journal root")
	}
}

type eventLine struct {
	Tick    uint64          `json:"tick"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readEvents(t *testing.T, path string) []eventLine {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open events: %v", err)
	}
	defer file.Close()

	var lines []eventLine
	scanner := bufio.NewScanner(snappy.NewReader(file))
	for scanner.Scan() {
		var line eventLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("decode event line: %v", err)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan events: %v", err)
	}
	return lines
}

type decodedFrame struct {
	tick    uint64
	payload []byte
}

func readFrames(t *testing.T, path string) []decodedFrame {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open frames: %v", err)
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		t.Fatalf("open zstd stream: %v", err)
	}
	defer decoder.Close()

	var frames []decodedFrame
	header := make([]byte, 8+8+4)
	for {
		if _, err := io.ReadFull(decoder, header); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("read frame header: %v", err)
		}
		tick := binary.LittleEndian.Uint64(header[0:8])
		captured := time.Unix(0, int64(binary.LittleEndian.Uint64(header[8:16])))
		if captured.Before(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("frame capture time not set: %v", captured)
		}
		payload := make([]byte, binary.LittleEndian.Uint32(header[16:20]))
		if _, err := io.ReadFull(decoder, payload); err != nil {
			t.Fatalf("read frame payload: %v", err)
		}
		frames = append(frames, decodedFrame{tick: tick, payload: payload})
	}
	return frames
}
