package miner

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/defectminer/pkg/jsonl"
)

// DefaultRecordsPerFile is the rotation threshold of shard chunk files.
const DefaultRecordsPerFile = 1000

// chunkExt is the extension of uncompressed chunk files.
const chunkExt = ".jsonl"

// ShardWriter appends one shard's records to private chunk files, rotating
// to a new file every perFile records. Every record is flushed when written,
// so an interrupted shard leaves valid chunks behind.
type ShardWriter struct {
	dir      string
	repo     string
	shard    int
	perFile  int
	compress bool

	cur    *jsonl.Writer
	chunks []string
	bytes  int64
}

// NewShardWriter creates a writer for shard k of repo inside dir.
func NewShardWriter(dir, repo string, shard, perFile int, compress bool) *ShardWriter {
	if perFile <= 0 {
		perFile = DefaultRecordsPerFile
	}

	return &ShardWriter{dir: dir, repo: repo, shard: shard, perFile: perFile, compress: compress}
}

// Write appends c to the current chunk.
func (w *ShardWriter) Write(c *Commit) error {
	if w.cur == nil || w.cur.Records() >= w.perFile {
		rotateErr := w.rotate()
		if rotateErr != nil {
			return rotateErr
		}
	}

	err := w.cur.Write(c)
	if err != nil {
		return err
	}

	return w.cur.Flush()
}

func (w *ShardWriter) rotate() error {
	sealErr := w.seal()
	if sealErr != nil {
		return sealErr
	}

	name := fmt.Sprintf("%s-shard%d-%d-%s%s", w.repo, w.shard, len(w.chunks), uuid.NewString(), chunkExt)
	if w.compress {
		name += jsonl.Lz4Ext
	}

	cur, err := jsonl.Create(filepath.Join(w.dir, name))
	if err != nil {
		return err
	}

	w.cur = cur
	w.chunks = append(w.chunks, cur.Path())

	return nil
}

// seal closes the current chunk and sorts it by date.
func (w *ShardWriter) seal() error {
	if w.cur == nil {
		return nil
	}

	cur := w.cur
	w.cur = nil

	closeErr := cur.Close()
	if closeErr != nil {
		return closeErr
	}

	w.bytes += cur.Offset()

	return SortChunk(cur.Path())
}

// Close seals the last chunk.
func (w *ShardWriter) Close() error {
	return w.seal()
}

// Chunks returns the chunk files in creation order.
func (w *ShardWriter) Chunks() []string {
	return slices.Clone(w.chunks)
}

// Bytes returns the uncompressed size of the sealed chunks.
func (w *ShardWriter) Bytes() int64 {
	return w.bytes
}

type dated struct {
	Date int64 `json:"date"`
}

type datedLine struct {
	date int64
	raw  []byte
}

// SortChunk stably sorts a chunk file by record date and replaces it through a
// temporary sibling.
func SortChunk(path string) error {
	r, err := jsonl.Open(path)
	if err != nil {
		return err
	}

	var lines []datedLine

	for {
		raw, nextErr := r.NextRaw()
		if errors.Is(nextErr, io.EOF) {
			break
		}

		if nextErr != nil {
			r.Close()

			return nextErr
		}

		var d dated

		unmarshalErr := json.Unmarshal(raw, &d)
		if unmarshalErr != nil {
			r.Close()

			return fmt.Errorf("%s:%d: %w", path, r.Line(), unmarshalErr)
		}

		lines = append(lines, datedLine{date: d.Date, raw: raw})
	}

	r.Close()

	if slices.IsSortedFunc(lines, cmpDated) {
		return nil
	}

	slices.SortStableFunc(lines, cmpDated)

	tmp := filepath.Join(filepath.Dir(path), ".sorting-"+filepath.Base(path))

	w, err := jsonl.Create(tmp)
	if err != nil {
		return err
	}

	for _, l := range lines {
		writeErr := w.WriteRaw(l.raw)
		if writeErr != nil {
			w.Close()
			os.Remove(tmp)

			return writeErr
		}
	}

	syncErr := w.Sync()
	if syncErr != nil {
		w.Close()
		os.Remove(tmp)

		return syncErr
	}

	closeErr := w.Close()
	if closeErr != nil {
		os.Remove(tmp)

		return closeErr
	}

	renameErr := os.Rename(tmp, path)
	if renameErr != nil {
		return fmt.Errorf("replace %s: %w", path, renameErr)
	}

	return nil
}

func cmpDated(a, b datedLine) int {
	switch {
	case a.date < b.date:
		return -1
	case a.date > b.date:
		return 1
	default:
		return 0
	}
}
