package api

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const (
	walHeaderSize = 16
	walFileName   = "events.wal"
	walCheckpoint = "checkpoint"
)

var (
	errWALClosed = errors.New("event wal closed")
	crcTable     = crc32.MakeTable(crc32.Castagnoli)
)

// walRecord is one task event awaiting delivery. Offsets are assigned by the
// log and grow by one per record.
type walRecord struct {
	Offset      uint64           `json:"offset"`
	Event       domain.TaskEvent `json:"event"`
	Timestamp   time.Time        `json:"timestamp"`
	Attempt     int              `json:"attempt"`
	LastErr     string           `json:"lastErr,omitempty"`
	encodedSize int64            `json:"-"`
}

// eventWAL is an append-only file of undelivered task events. Each record is
// framed by a 16 byte header: payload length, CRC32C of the payload and the
// record offset. The checkpoint file holds the highest offset below which
// every record was delivered.
type eventWAL struct {
	dir          string
	compactBytes int64
	logger       *log.Logger

	mu              sync.Mutex
	file            *os.File
	size            int64
	nextOffset      uint64
	committedOffset uint64
	closed          bool
}

// openEventWAL opens or creates the log in dir and returns the records that
// were written but never committed. A torn record at the tail is cut off.
func openEventWAL(dir string, compactBytes int64, logger *log.Logger) (*eventWAL, []*walRecord, error) {
	if dir == "" {
		return nil, nil, fmt.Errorf("wal dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}

	w := &eventWAL{dir: dir, compactBytes: compactBytes, logger: logger}
	checkpoint, err := w.readCheckpoint()
	if err != nil {
		return nil, nil, err
	}
	w.committedOffset = checkpoint
	w.nextOffset = checkpoint + 1

	f, err := os.OpenFile(filepath.Join(dir, walFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, nil, err
	}
	records, size, err := readRecords(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if _, err := f.Seek(size, io.SeekStart); err != nil {
		f.Close()
		return nil, nil, err
	}
	w.file, w.size = f, size

	pending := make([]*walRecord, 0, len(records))
	for _, rec := range records {
		if rec.Offset >= w.nextOffset {
			w.nextOffset = rec.Offset + 1
		}
		if rec.Offset > w.committedOffset {
			pending = append(pending, rec)
		}
	}
	return w, pending, nil
}

// readRecords decodes f from the start and truncates anything after the
// last intact record.
func readRecords(f *os.File) ([]*walRecord, int64, error) {
	reader := bufio.NewReaderSize(f, 64*1024)
	records := make([]*walRecord, 0)
	var pos int64
	for {
		start := pos
		hdr := make([]byte, walHeaderSize)
		n, err := io.ReadFull(reader, hdr)
		pos += int64(n)
		if errors.Is(err, io.EOF) {
			return records, start, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return records, start, f.Truncate(start)
		}
		if err != nil {
			return nil, 0, err
		}

		length := binary.LittleEndian.Uint32(hdr[0:4])
		crc := binary.LittleEndian.Uint32(hdr[4:8])
		offset := binary.LittleEndian.Uint64(hdr[8:16])
		buf := make([]byte, length)
		n, err = io.ReadFull(reader, buf)
		pos += int64(n)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return records, start, f.Truncate(start)
		}
		if err != nil {
			return nil, 0, err
		}
		if crc32.Checksum(buf, crcTable) != crc {
			return records, start, f.Truncate(start)
		}

		var rec walRecord
		if err := sonic.Unmarshal(buf, &rec); err != nil {
			return nil, 0, err
		}
		if rec.Offset != offset {
			return nil, 0, fmt.Errorf("wal offset mismatch: header=%d payload=%d", offset, rec.Offset)
		}
		rec.encodedSize = walHeaderSize + int64(length)
		records = append(records, &rec)
	}
}

func (w *eventWAL) readCheckpoint() (uint64, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, walCheckpoint))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return 0, nil
	}
	val, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid checkpoint: %w", err)
	}
	return val, nil
}

// append assigns rec the next offset and writes it durably.
func (w *eventWAL) append(rec *walRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errWALClosed
	}

	rec.Offset = w.nextOffset
	payload, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	frame := make([]byte, walHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.Checksum(payload, crcTable))
	binary.LittleEndian.PutUint64(frame[8:16], rec.Offset)
	copy(frame[walHeaderSize:], payload)

	if _, err := w.file.Write(frame); err != nil {
		// Drop whatever part of the frame made it to disk.
		_ = w.file.Truncate(w.size)
		_, _ = w.file.Seek(w.size, io.SeekStart)
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.nextOffset++
	rec.encodedSize = int64(len(frame))
	w.size += rec.encodedSize
	return nil
}

// commit records that every offset up to and including offset was
// delivered. Once nothing is outstanding and the file has grown past
// compactBytes, the file is emptied.
func (w *eventWAL) commit(offset uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errWALClosed
	}
	if offset <= w.committedOffset {
		return nil
	}
	path := filepath.Join(w.dir, walCheckpoint)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(offset, 10)), 0o644); err != nil {
		return err
	}
	if err := syncFile(tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	if err := syncDir(w.dir); err != nil {
		return err
	}
	w.committedOffset = offset

	if offset+1 == w.nextOffset && w.size >= w.compactBytes {
		if err := w.file.Truncate(0); err != nil {
			return err
		}
		if _, err := w.file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		w.size = 0
		w.logger.WithField("offset", offset).Debug("event wal compacted")
	}
	return nil
}

func (w *eventWAL) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
