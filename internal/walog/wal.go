// Package walog implements the document store's write-ahead log: an
// append-only, checksummed, JSON-line file that is the sole durability
// boundary for transaction commits and the source of truth for crash
// recovery.
package walog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neebdev/valoradb/internal/metrics"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed WAL.
	ErrClosed = errors.New("walog: closed")
)

// Options configures a WAL instance. Zero values fall back to Defaults.
type Options struct {
	// BufferThreshold is the number of buffered entries that triggers an
	// implicit flush, independent of COMMIT/ROLLBACK forcing one.
	BufferThreshold int
	// RotateSize is the approximate on-disk size, in bytes, past which the
	// active segment is rotated out after a flush.
	RotateSize int64
	Logger     *logrus.Logger
}

// Defaults returns the spec's suggested tuning: a 100-entry buffer and a
// 10 MiB rotation threshold.
func Defaults() Options {
	return Options{
		BufferThreshold: 100,
		RotateSize:      10 * 1024 * 1024,
	}
}

func (o Options) withDefaults() Options {
	d := Defaults()
	if o.BufferThreshold <= 0 {
		o.BufferThreshold = d.BufferThreshold
	}
	if o.RotateSize <= 0 {
		o.RotateSize = d.RotateSize
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// WAL is an append-only log of transaction events backed by a single active
// file, ".wal", inside dbRoot. It serializes all appends and flushes behind
// a single mutex, matching the "short critical section" discipline spec §5
// asks of the engine's shared WAL state.
type WAL struct {
	mu     sync.Mutex
	dir    string
	path   string
	file   *os.File
	writer *bufio.Writer

	buffer []Entry

	nextLSN     uint64
	bufferLimit int
	rotateSize  int64
	currentSize int64

	closed bool
	log    *logrus.Entry
}

// Open opens or creates the WAL at dir/.wal, recovering the next LSN from
// whatever is already on disk. An absent or empty log starts LSNs at 1.
func Open(dir string, opts Options) (*WAL, error) {
	opts = opts.withDefaults()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("walog: create dir: %w", err)
	}

	w := &WAL{
		dir:         dir,
		path:        filepath.Join(dir, ".wal"),
		bufferLimit: opts.BufferThreshold,
		rotateSize:  opts.RotateSize,
		log:         opts.Logger.WithField("component", "wal"),
	}

	maxLSN, err := w.recoverMaxLSN()
	if err != nil {
		return nil, fmt.Errorf("walog: recover LSN: %w", err)
	}
	w.nextLSN = maxLSN

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("walog: open active segment: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("walog: stat active segment: %w", err)
	}

	w.file = file
	w.writer = bufio.NewWriter(file)
	w.currentSize = info.Size()

	return w, nil
}

func (w *WAL) recoverMaxLSN() (uint64, error) {
	entries, err := readVerifiedEntries(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var max uint64
	for _, e := range entries {
		if e.LSN > max {
			max = e.LSN
		}
	}
	return max, nil
}

// readVerifiedEntries reads path line by line, skipping lines that fail to
// parse or fail checksum verification (I4: a corrupt entry is treated as
// absent). It tolerates a trailing partial line left by a crash mid-write.
func readVerifiedEntries(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if !verify(e) {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, err
	}
	return entries, nil
}

// NextLSN allocates and returns a fresh LSN without appending an entry.
func (w *WAL) NextLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextLSN++
	return w.nextLSN
}

// Append buffers entry, assigning it an LSN if it doesn't already have one,
// and computing its checksum. COMMIT and ROLLBACK entries force an
// immediate, synchronous flush before Append returns — the sole durability
// boundary the engine relies on.
func (w *WAL) Append(entry Entry) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}

	if entry.LSN == 0 {
		w.nextLSN++
		entry.LSN = w.nextLSN
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	checksum, err := computeChecksum(entry)
	if err != nil {
		return 0, fmt.Errorf("walog: checksum: %w", err)
	}
	entry.Checksum = checksum

	w.buffer = append(w.buffer, entry)

	mustFlush := entry.Operation == OpCommit || entry.Operation == OpRollback
	if mustFlush || len(w.buffer) >= w.bufferLimit {
		if err := w.flushLocked(); err != nil {
			return entry.LSN, err
		}
	}

	return entry.LSN, nil
}

// ForceFlush guarantees all buffered entries are durable on stable storage.
func (w *WAL) ForceFlush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if w.closed {
		return ErrClosed
	}
	if len(w.buffer) == 0 {
		return nil
	}

	flushStart := time.Now()
	defer func() { metrics.WALFlushSeconds.Observe(time.Since(flushStart).Seconds()) }()

	var written int64
	for _, e := range w.buffer {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("walog: encode entry: %w", err)
		}
		line = append(line, '\n')
		n, err := w.writer.Write(line)
		if err != nil {
			return fmt.Errorf("walog: write entry: %w", err)
		}
		written += int64(n)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("walog: flush buffer: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("walog: fsync: %w", err)
	}

	w.currentSize += written
	w.buffer = w.buffer[:0]

	if w.currentSize > w.rotateSize {
		w.rotateLocked()
	}

	return nil
}

// rotateLocked renames the active segment aside and starts a fresh one,
// appending a CHECKPOINT record to it. Rotation is best-effort: any failure
// is logged and swallowed, per spec §4.1.
func (w *WAL) rotateLocked() {
	if err := w.file.Close(); err != nil {
		w.log.WithError(err).Warn("rotate: close active segment failed")
		return
	}

	archivePath := filepath.Join(w.dir, fmt.Sprintf(".wal.%s", time.Now().UTC().Format("20060102T150405.000000000Z")))
	if err := os.Rename(w.path, archivePath); err != nil {
		w.log.WithError(err).Warn("rotate: rename active segment failed")
		// Reopen the old path so the WAL keeps functioning.
		if file, openErr := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644); openErr == nil {
			w.file = file
			w.writer = bufio.NewWriter(file)
		}
		return
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		w.log.WithError(err).Warn("rotate: open new segment failed")
		return
	}
	w.file = file
	w.writer = bufio.NewWriter(file)
	w.currentSize = 0

	checkpoint := NewCheckpointEntry()
	w.nextLSN++
	checkpoint.LSN = w.nextLSN
	checkpoint.Timestamp = time.Now().UnixMilli()
	checksum, err := computeChecksum(checkpoint)
	if err != nil {
		w.log.WithError(err).Warn("rotate: checksum checkpoint failed")
		return
	}
	checkpoint.Checksum = checksum

	line, err := json.Marshal(checkpoint)
	if err != nil {
		w.log.WithError(err).Warn("rotate: encode checkpoint failed")
		return
	}
	line = append(line, '\n')
	if _, err := w.writer.Write(line); err != nil {
		w.log.WithError(err).Warn("rotate: write checkpoint failed")
		return
	}
	if err := w.writer.Flush(); err != nil {
		w.log.WithError(err).Warn("rotate: flush checkpoint failed")
		return
	}
	if err := w.file.Sync(); err != nil {
		w.log.WithError(err).Warn("rotate: fsync checkpoint failed")
		return
	}
	w.currentSize += int64(len(line))
}

// Checkpoint appends a CHECKPOINT record and forces a flush.
func (w *WAL) Checkpoint() (uint64, error) {
	lsn, err := w.Append(NewCheckpointEntry())
	if err != nil {
		return lsn, err
	}
	return lsn, w.ForceFlush()
}

// Scan returns every verified entry with LSN >= fromLSN, flushing any
// buffered entries first so the view is complete, ordered by LSN.
func (w *WAL) Scan(fromLSN uint64) ([]Entry, error) {
	w.mu.Lock()
	if err := w.flushLocked(); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	path := w.path
	w.mu.Unlock()

	entries, err := readVerifiedEntries(path)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LSN < entries[j].LSN })

	if fromLSN == 0 {
		return entries, nil
	}
	filtered := entries[:0:0]
	for _, e := range entries {
		if e.LSN >= fromLSN {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// TrimCommittedTransaction removes every non-COMMIT record belonging to
// txnID from the active segment, retaining its single COMMIT record as a
// durable marker. This is an optimization, not a correctness requirement:
// failures are logged, never surfaced to the caller. Lines that fail to
// parse or verify are retained unchanged, to avoid widening data loss.
func (w *WAL) TrimCommittedTransaction(txnID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flushLocked(); err != nil {
		w.log.WithError(err).Warn("trim: flush before trim failed")
		return
	}

	raw, err := os.ReadFile(w.path)
	if err != nil {
		w.log.WithError(err).Warn("trim: read active segment failed")
		return
	}

	lines := splitLines(raw)
	kept := make([][]byte, 0, len(lines))
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || !verify(e) {
			kept = append(kept, line)
			continue
		}
		if e.TransactionID != txnID {
			kept = append(kept, line)
			continue
		}
		if e.Operation == OpCommit {
			kept = append(kept, line)
		}
		// else: drop this txn's BEGIN/WRITE/DELETE record.
	}

	tmpPath := w.path + ".trim"
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		w.log.WithError(err).Warn("trim: create temp segment failed")
		return
	}
	writer := bufio.NewWriter(tmpFile)
	var size int64
	for _, line := range kept {
		n, _ := writer.Write(line)
		writer.WriteByte('\n')
		size += int64(n) + 1
	}
	if err := writer.Flush(); err != nil {
		w.log.WithError(err).Warn("trim: flush temp segment failed")
		tmpFile.Close()
		return
	}
	if err := tmpFile.Sync(); err != nil {
		w.log.WithError(err).Warn("trim: fsync temp segment failed")
		tmpFile.Close()
		return
	}
	tmpFile.Close()

	if err := w.file.Close(); err != nil {
		w.log.WithError(err).Warn("trim: close active segment failed")
		return
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		w.log.WithError(err).Warn("trim: rename temp segment failed")
		return
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		w.log.WithError(err).Warn("trim: reopen active segment failed")
		return
	}
	w.file = file
	w.writer = bufio.NewWriter(file)
	w.currentSize = size
}

func splitLines(raw []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range raw {
		if b == '\n' {
			lines = append(lines, raw[start:i])
			start = i + 1
		}
	}
	if start < len(raw) {
		lines = append(lines, raw[start:])
	}
	return lines
}

// Close flushes and closes the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	err := w.flushLocked()
	w.closed = true
	if closeErr := w.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
