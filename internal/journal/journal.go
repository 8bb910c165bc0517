// Package journal keeps an append-only, line-delimited JSON record of every
// change reconciliation detects.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/yairfalse/kartta/pkg/resource"
)

// Entry is one recorded change.
type Entry struct {
	Timestamp time.Time                  `json:"timestamp"`
	Sequence  int64                      `json:"sequence"`
	Type      resource.DiffType          `json:"type"`
	ARN       string                     `json:"arn"`
	Changes   map[string]resource.Change `json:"changes,omitempty"`
}

// Config controls file naming, rotation and retention.
type Config struct {
	Dir           string
	FilePrefix    string
	MaxFileSize   int64
	RetentionDays int
}

// DefaultConfig returns the standard journal settings for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:           dir,
		FilePrefix:    "changes",
		MaxFileSize:   64 << 20,
		RetentionDays: 30,
	}
}

// Journal appends entries to the current file, rotating by size.
type Journal struct {
	mu       sync.Mutex
	cfg      Config
	file     *os.File
	writer   *bufio.Writer
	size     int64
	sequence int64
}

// Open creates the directory if needed and starts a new file. Sequence
// numbering continues from the highest value already on disk.
func Open(cfg Config) (*Journal, error) {
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = "changes"
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultConfig(cfg.Dir).MaxFileSize
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	j := &Journal{cfg: cfg}
	seq, err := lastSequence(files(cfg.Dir, cfg.FilePrefix))
	if err != nil {
		return nil, err
	}
	j.sequence = seq

	if err := j.openFile(time.Now(), seq+1); err != nil {
		return nil, err
	}
	return j, nil
}

// openFile names the file after its first sequence so names sort in write order.
func (j *Journal) openFile(now time.Time, firstSeq int64) error {
	name := fmt.Sprintf("%s-%s-%012d.jsonl", j.cfg.FilePrefix, now.UTC().Format("20060102-150405"), firstSeq)
	f, err := os.OpenFile(filepath.Join(j.cfg.Dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat journal file: %w", err)
	}
	j.file = f
	j.writer = bufio.NewWriter(f)
	j.size = info.Size()
	return nil
}

// Record appends one entry per diff and syncs the file.
func (j *Journal) Record(diffs []resource.Diff, at time.Time) error {
	if len(diffs) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	for _, d := range diffs {
		j.sequence++
		line, err := json.Marshal(Entry{
			Timestamp: at.UTC(),
			Sequence:  j.sequence,
			Type:      d.Type,
			ARN:       d.ARN,
			Changes:   d.Changes,
		})
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		line = append(line, '\n')

		if j.size > 0 && j.size+int64(len(line)) > j.cfg.MaxFileSize {
			if err := j.rotate(at); err != nil {
				return err
			}
		}

		n, err := j.writer.Write(line)
		if err != nil {
			return fmt.Errorf("write entry: %w", err)
		}
		j.size += int64(n)
	}

	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return j.file.Sync()
}

func (j *Journal) rotate(now time.Time) error {
	if err := j.closeFile(); err != nil {
		return err
	}
	return j.openFile(now, j.sequence)
}

func (j *Journal) closeFile() error {
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return j.file.Close()
}

// Sequence returns the last assigned sequence number.
func (j *Journal) Sequence() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sequence
}

// Close flushes and closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeFile()
}

// Recent returns up to limit of the newest entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	j.mu.Lock()
	if err := j.writer.Flush(); err != nil {
		j.mu.Unlock()
		return nil, fmt.Errorf("flush journal: %w", err)
	}
	j.mu.Unlock()

	var ring []Entry
	err := Replay(j.cfg.Dir, j.cfg.FilePrefix, time.Time{}, func(e Entry) error {
		ring = append(ring, e)
		if limit > 0 && len(ring) > limit {
			ring = ring[1:]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for l, r := 0, len(ring)-1; l < r; l, r = l+1, r-1 {
		ring[l], ring[r] = ring[r], ring[l]
	}
	return ring, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// Reading
// ══════════════════════════════════════════════════════════════════════════════

// Reader iterates the entries of one journal file.
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader opens a journal file for reading.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the journal directory listing
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	return &Reader{scanner: sc, file: f}, nil
}

// Next returns the next entry, or io.EOF.
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var e Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &e); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &e, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay calls handler for every entry newer than since, oldest file first.
// A corrupt line is skipped.
func Replay(dir, prefix string, since time.Time, handler func(Entry) error) error {
	for _, path := range files(dir, prefix) {
		if err := replayFile(path, since, handler); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, since time.Time, handler func(Entry) error) error {
	r, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if r.scanner.Err() != nil {
				return err
			}
			continue
		}
		if !e.Timestamp.After(since) {
			continue
		}
		if err := handler(*e); err != nil {
			return err
		}
	}
}

// files lists journal files in name order, which is creation order.
func files(dir, prefix string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl"))
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}

func lastSequence(paths []string) (int64, error) {
	var maxSeq int64
	for _, path := range paths {
		if err := replayFile(path, time.Time{}, func(e Entry) error {
			if e.Sequence > maxSeq {
				maxSeq = e.Sequence
			}
			return nil
		}); err != nil {
			return 0, fmt.Errorf("scan %s: %w", filepath.Base(path), err)
		}
	}
	return maxSeq, nil
}
