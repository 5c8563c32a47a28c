package storage

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// tailWindow is how many bytes from the end of a file are inspected when
// verifying the last record. Records are short; one window always covers
// several of them.
const tailWindow = 64 * 1024

// appendFile is an append-only CSV file with a fixed header. On open it
// verifies the tail and drops any record left half-written by a crash, so a
// cursor derived from the file always points at a fully written record.
type appendFile struct {
	path   string
	header []string
	f      *os.File
	logger *zap.Logger
}

func openAppendFile(path string, header []string, logger *zap.Logger) (*appendFile, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return nil, fmt.Errorf("create dir for %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	a := &appendFile{path: path, header: header, f: f, logger: logger}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if info.Size() == 0 {
		err = a.writeRows([][]string{header})
		if err != nil {
			f.Close()
			return nil, err
		}
		return a, nil
	}

	err = a.repairTail(info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}

	_, err = f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("seek %s: %w", path, err)
	}

	return a, nil
}

// repairTail truncates the file past the last fully written, well-formed
// record. Dropping the tail is safe: the records it held were never
// covered by a checkpoint, so the next flush rewrites them.
func (a *appendFile) repairTail(size int64) error {
	start := size - tailWindow
	if start < 0 {
		start = 0
	}

	buf := make([]byte, size-start)
	_, err := a.f.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read tail of %s: %w", a.path, err)
	}

	end := int64(len(buf))
	truncated := false

	for end > 0 {
		// A valid tail ends with a newline.
		if buf[end-1] != '\n' {
			nl := int64(bytes.LastIndexByte(buf[:end], '\n'))
			if nl < 0 {
				end = 0
				break
			}
			end = nl + 1
			truncated = true
			continue
		}

		// Check the last complete line parses with the right field count.
		lineStart := int64(bytes.LastIndexByte(buf[:end-1], '\n')) + 1
		line := buf[lineStart:end]

		record, parseErr := csv.NewReader(bytes.NewReader(line)).Read()
		if parseErr == nil && len(record) == len(a.header) {
			break
		}

		end = lineStart
		truncated = true
	}

	if !truncated {
		return nil
	}

	newSize := start + end
	err = a.f.Truncate(newSize)
	if err != nil {
		return fmt.Errorf("truncate %s: %w", a.path, err)
	}

	a.logger.Warn("truncated-partial-records-dropped",
		zap.String("path", a.path),
		zap.Int64("bytes_dropped", size-newSize))

	return nil
}

// writeRows appends records and fsyncs before returning, so a successful
// return means the rows survive a crash.
func (a *appendFile) writeRows(rows [][]string) error {
	w := csv.NewWriter(a.f)
	for _, row := range rows {
		err := w.Write(row)
		if err != nil {
			return fmt.Errorf("write record to %s: %w", a.path, err)
		}
	}

	w.Flush()
	err := w.Error()
	if err != nil {
		return fmt.Errorf("flush %s: %w", a.path, err)
	}

	err = a.f.Sync()
	if err != nil {
		return fmt.Errorf("sync %s: %w", a.path, err)
	}

	return nil
}

// lastRow returns the last data record, or false when the file holds only
// the header.
func (a *appendFile) lastRow() ([]string, bool, error) {
	info, err := a.f.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("stat %s: %w", a.path, err)
	}

	start := info.Size() - tailWindow
	if start < 0 {
		start = 0
	}

	buf := make([]byte, info.Size()-start)
	_, err = a.f.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return nil, false, fmt.Errorf("read tail of %s: %w", a.path, err)
	}

	buf = bytes.TrimRight(buf, "\n")
	nl := bytes.LastIndexByte(buf, '\n')
	line := buf
	if nl >= 0 {
		line = buf[nl+1:]
	} else if start > 0 {
		// Window started mid-line; with records far shorter than the
		// window this means the file is effectively empty.
		return nil, false, nil
	}

	record, err := csv.NewReader(bytes.NewReader(line)).Read()
	if err != nil || len(record) != len(a.header) {
		return nil, false, nil
	}

	if record[0] == a.header[0] {
		// Only the header line is present.
		return nil, false, nil
	}

	return record, true, nil
}

// scan streams all data records through fn using an independent read
// handle, without materializing the file. fn returning an error stops the
// scan and propagates.
func (a *appendFile) scan(fn func(record []string) error) error {
	f, err := os.Open(a.path)
	if err != nil {
		return fmt.Errorf("open %s for scan: %w", a.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(a.header)

	first := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// A malformed row mid-file should not exist (appends are
			// atomic per flush), but tolerate it the way checkpoint
			// parsing does: skip rather than fail the whole scan.
			a.logger.Warn("skipping-malformed-record", zap.String("path", a.path), zap.Error(err))
			continue
		}

		if first {
			first = false
			if record[0] == a.header[0] {
				continue
			}
		}

		err = fn(record)
		if err != nil {
			return err
		}
	}
}

// reset truncates the file back to just the header.
func (a *appendFile) reset() error {
	err := a.f.Truncate(0)
	if err != nil {
		return fmt.Errorf("truncate %s: %w", a.path, err)
	}

	_, err = a.f.Seek(0, io.SeekStart)
	if err != nil {
		return fmt.Errorf("seek %s: %w", a.path, err)
	}

	return a.writeRows([][]string{a.header})
}

// Close syncs and closes the underlying file.
func (a *appendFile) Close() error {
	err := a.f.Sync()
	if closeErr := a.f.Close(); err == nil {
		err = closeErr
	}

	return err
}
