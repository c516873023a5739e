// Package jsonl reads and writes newline-delimited JSON files. Files whose name
// ends in ".lz4" are transparently wrapped in an LZ4 frame.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// Lz4Ext marks LZ4-framed files.
const Lz4Ext = ".lz4"

// File permissions for created outputs.
const filePerm = 0o644

// bufferSize is the size of read and write buffers.
const bufferSize = 256 * 1024

// ErrCompressedAppend is returned when appending to an LZ4-framed file.
var ErrCompressedAppend = errors.New("cannot append to compressed jsonl file")

// Compressed reports whether path names an LZ4-framed file.
func Compressed(path string) bool {
	return strings.HasSuffix(path, Lz4Ext)
}

// Writer appends JSON records, one per line.
type Writer struct {
	path    string
	file    *os.File
	buf     *bufio.Writer
	lz      *lz4.Writer
	out     io.Writer
	offset  int64
	records int
}

// Create creates or truncates path for writing.
func Create(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	return newWriter(path, file, 0), nil
}

// OpenAppend opens a plain file for appending after truncating it to offset.
// A missing file is created when offset is zero.
func OpenAppend(path string, offset int64) (*Writer, error) {
	if Compressed(path) {
		return nil, fmt.Errorf("%w: %s", ErrCompressedAppend, path)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	truncErr := file.Truncate(offset)
	if truncErr != nil {
		file.Close()

		return nil, fmt.Errorf("truncate %s to %d: %w", path, offset, truncErr)
	}

	_, seekErr := file.Seek(offset, io.SeekStart)
	if seekErr != nil {
		file.Close()

		return nil, fmt.Errorf("seek %s: %w", path, seekErr)
	}

	return newWriter(path, file, offset), nil
}

func newWriter(path string, file *os.File, offset int64) *Writer {
	w := &Writer{
		path:   path,
		file:   file,
		buf:    bufio.NewWriterSize(file, bufferSize),
		offset: offset,
	}

	w.out = w.buf

	if Compressed(path) {
		w.lz = lz4.NewWriter(w.buf)
		w.out = w.lz
	}

	return w
}

// Path returns the file the writer appends to.
func (w *Writer) Path() string {
	return w.path
}

// Write marshals v and appends it as one line.
func (w *Writer) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return w.WriteRaw(data)
}

// WriteRaw appends an already encoded record. The data must not contain a newline.
func (w *Writer) WriteRaw(data []byte) error {
	n, err := w.out.Write(data)
	if err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}

	nlErr := w.writeNewline()
	if nlErr != nil {
		return nlErr
	}

	w.offset += int64(n) + 1
	w.records++

	return nil
}

func (w *Writer) writeNewline() error {
	_, err := w.out.Write([]byte{'\n'})
	if err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}

	return nil
}

// Offset returns the number of uncompressed bytes in the file, including any
// prefix kept by OpenAppend.
func (w *Writer) Offset() int64 {
	return w.offset
}

// Records returns the number of records written through this writer.
func (w *Writer) Records() int {
	return w.records
}

// Flush pushes buffered records to the operating system.
func (w *Writer) Flush() error {
	if w.lz != nil {
		err := w.lz.Flush()
		if err != nil {
			return fmt.Errorf("flush lz4 %s: %w", w.path, err)
		}
	}

	err := w.buf.Flush()
	if err != nil {
		return fmt.Errorf("flush %s: %w", w.path, err)
	}

	return nil
}

// Sync flushes and commits the file to stable storage.
func (w *Writer) Sync() error {
	flushErr := w.Flush()
	if flushErr != nil {
		return flushErr
	}

	err := w.file.Sync()
	if err != nil {
		return fmt.Errorf("sync %s: %w", w.path, err)
	}

	return nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	var errs []error

	if w.lz != nil {
		err := w.lz.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("close lz4 %s: %w", w.path, err))
		}
	}

	flushErr := w.buf.Flush()
	if flushErr != nil {
		errs = append(errs, fmt.Errorf("flush %s: %w", w.path, flushErr))
	}

	closeErr := w.file.Close()
	if closeErr != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", w.path, closeErr))
	}

	return errors.Join(errs...)
}

// Reader iterates over the records of a file.
type Reader struct {
	path string
	file *os.File
	r    *bufio.Reader
	line int
}

// Open opens path for reading.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var src io.Reader = file
	if Compressed(path) {
		src = lz4.NewReader(file)
	}

	return &Reader{path: path, file: file, r: bufio.NewReaderSize(src, bufferSize)}, nil
}

// Line returns the 1-based number of the last line returned.
func (r *Reader) Line() int {
	return r.line
}

// NextRaw returns the next non-empty line without its newline, or io.EOF.
func (r *Reader) NextRaw() ([]byte, error) {
	for {
		data, err := r.r.ReadBytes('\n')
		if len(data) > 0 {
			r.line++

			data = bytes.TrimRight(data, "\r\n")
			if len(bytes.TrimSpace(data)) > 0 {
				return data, nil
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}

			return nil, fmt.Errorf("read %s: %w", r.path, err)
		}
	}
}

// Next decodes the next record into v, or returns io.EOF.
func (r *Reader) Next(v any) error {
	data, err := r.NextRaw()
	if err != nil {
		return err
	}

	unmarshalErr := json.Unmarshal(data, v)
	if unmarshalErr != nil {
		return fmt.Errorf("%s:%d: %w", r.path, r.line, unmarshalErr)
	}

	return nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Each decodes every record of path in order and passes it to fn. It stops at
// the first error returned by fn.
func Each[T any](path string, fn func(T) error) error {
	r, err := Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		var rec T

		nextErr := r.Next(&rec)
		if errors.Is(nextErr, io.EOF) {
			return nil
		}

		if nextErr != nil {
			return nextErr
		}

		fnErr := fn(rec)
		if fnErr != nil {
			return fnErr
		}
	}
}

// ReadAll decodes every record of path.
func ReadAll[T any](path string) ([]T, error) {
	var out []T

	err := Each(path, func(rec T) error {
		out = append(out, rec)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// WriteAll writes records to path, replacing it.
func WriteAll[T any](path string, records []T) error {
	w, err := Create(path)
	if err != nil {
		return err
	}

	for _, rec := range records {
		writeErr := w.Write(rec)
		if writeErr != nil {
			w.Close()

			return writeErr
		}
	}

	return w.Close()
}
