package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"paddlearena/gameserver/internal/pong"
	"paddlearena/gameserver/internal/rooms"
)

var matchNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// frameBatchSize controls how many snapshot frames are buffered before they
// are pushed through the zstd stream together.
const frameBatchSize = 12

// Manifest describes the journal bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version   int    `json:"version"`
	MatchID   string `json:"match_id"`
	CreatedAt string `json:"created_at"`
	TickRate  int    `json:"tick_rate"`
	Events    string `json:"events_path"`
	Frames    string `json:"frames_path"`
}

type frameBlob struct {
	Tick       uint64
	CapturedAt time.Time
	Payload    []byte
}

// Recorder streams the artefacts of one match to disk: lifecycle events as a
// snappy-compressed JSONL log and per-tick snapshots as a length-prefixed
// zstd stream.
type Recorder struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []frameBlob
	closed      bool
}

// Archive opens per-match recorders under a shared root directory.
type Archive struct {
	root     string
	tickRate int
	now      func() time.Time
}

// NewArchive constructs an archive rooted at dir. The tick rate is recorded in
// each bundle manifest so replay tooling can pace playback.
func NewArchive(dir string, tickRate int) *Archive {
	return &Archive{root: dir, tickRate: tickRate, now: time.Now}
}

// Open prepares a journal bundle for the match and returns its recorder.
func (a *Archive) Open(matchID string) (rooms.MatchJournal, error) {
	if a == nil || a.root == "" {
		return nil, fmt.Errorf("journal root must be provided")
	}

	//1.- Derive a filesystem-safe bundle name from the match identifier.
	cleaned := matchNameCleaner.ReplaceAllString(matchID, "")
	if cleaned == "" {
		cleaned = "match"
	}
	created := a.now().UTC()
	dir := filepath.Join(a.root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	//2.- Open both compressed sinks before committing the manifest.
	eventFile, err := os.Create(filepath.Join(dir, "events.jsonl.sz"))
	if err != nil {
		return nil, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	frameFile, err := os.Create(filepath.Join(dir, "frames.bin.zst"))
	if err != nil {
		eventFile.Close()
		return nil, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		frameFile.Close()
		return nil, err
	}

	manifest := Manifest{
		Version:   1,
		MatchID:   matchID,
		CreatedAt: created.Format(time.RFC3339Nano),
		TickRate:  a.tickRate,
		Events:    "events.jsonl.sz",
		Frames:    "frames.bin.zst",
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o644)
	}
	if err != nil {
		frameStream.Close()
		frameFile.Close()
		eventStream.Close()
		eventFile.Close()
		return nil, err
	}

	return &Recorder{
		dir:         dir,
		now:         a.now,
		eventFile:   eventFile,
		eventStream: eventStream,
		frameFile:   frameFile,
		frameStream: frameStream,
	}, nil
}

// Directory exposes the directory backing the journal bundle.
func (r *Recorder) Directory() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// Event appends one JSON line to the compressed lifecycle log. Failures are
// swallowed: journalling never interferes with the simulation.
func (r *Recorder) Event(tick uint64, eventType string, payload any) {
	if r == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	captured := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	//1.- Wrap the payload with metadata so downstream JSONL parsers can stream it.
	record := struct {
		Tick       uint64          `json:"tick"`
		RecordedAt string          `json:"recorded_at"`
		Type       string          `json:"type"`
		Payload    json.RawMessage `json:"payload"`
	}{
		Tick:       tick,
		RecordedAt: captured.Format(time.RFC3339Nano),
		Type:       eventType,
		Payload:    body,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return
	}
	if _, err := r.eventStream.Write(append(line, '\n')); err != nil {
		return
	}
	//2.- Flush per event: lifecycle records are rare and must survive crashes.
	r.eventStream.Flush()
}

// Frame buffers one snapshot until the batch size is reached, then persists
// the batch through the zstd stream.
func (r *Recorder) Frame(tick uint64, snapshot pong.Snapshot) {
	if r == nil {
		return
	}
	body, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	captured := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.pending = append(r.pending, frameBlob{Tick: tick, CapturedAt: captured, Payload: body})
	if len(r.pending) >= frameBatchSize {
		r.flushLocked()
	}
}

// Close flushes all buffers and releases file handles. Safe to call twice.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	//1.- Attempt every flush/close and surface the first failure.
	var firstErr error
	if err := r.flushLocked(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.eventStream.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.eventStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.eventFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.frameStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.frameFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// flushLocked writes buffered frames to the zstd stream; callers hold the mutex.
func (r *Recorder) flushLocked() error {
	if len(r.pending) == 0 {
		return nil
	}
	//1.- Length-prefixed records let replayers step the stream without parsing JSON.
	for _, frame := range r.pending {
		header := make([]byte, 8+8+4)
		binary.LittleEndian.PutUint64(header[0:8], frame.Tick)
		binary.LittleEndian.PutUint64(header[8:16], uint64(frame.CapturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[16:20], uint32(len(frame.Payload)))
		if _, err := r.frameStream.Write(header); err != nil {
			return err
		}
		if _, err := r.frameStream.Write(frame.Payload); err != nil {
			return err
		}
	}
	r.pending = r.pending[:0]
	return nil
}
