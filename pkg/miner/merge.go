package miner

import (
	"container/heap"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Sumatoshi-tech/defectminer/pkg/jsonl"
)

// Sink receives encoded records in merge order. *jsonl.Writer implements it.
type Sink interface {
	WriteRaw(data []byte) error
}

// Chunk is a date-sorted run produced by one shard.
type Chunk struct {
	Path  string
	Shard int
	Seq   int
}

type cursor struct {
	chunk  Chunk
	reader *jsonl.Reader
	raw    []byte
	date   int64
}

func (c *cursor) advance() (bool, error) {
	raw, err := c.reader.NextRaw()
	if errors.Is(err, io.EOF) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	var d dated

	unmarshalErr := json.Unmarshal(raw, &d)
	if unmarshalErr != nil {
		return false, fmt.Errorf("%s:%d: %w", c.chunk.Path, c.reader.Line(), unmarshalErr)
	}

	c.raw, c.date = raw, d.Date

	return true, nil
}

// cursorHeap orders cursors by (date, shard, seq); the line position is
// implied because each chunk is read front to back.
type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.date != b.date {
		return a.date < b.date
	}

	if a.chunk.Shard != b.chunk.Shard {
		return a.chunk.Shard < b.chunk.Shard
	}

	return a.chunk.Seq < b.chunk.Seq
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(*cursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return c
}

// Merge streams the records of date-sorted chunks into sink in (date, shard,
// seq, line) order and returns the number of records written. Only one record
// per chunk is held in memory.
func Merge(chunks []Chunk, sink Sink) (int, error) {
	h := make(cursorHeap, 0, len(chunks))

	defer func() {
		for _, c := range h {
			c.reader.Close()
		}
	}()

	for _, ch := range chunks {
		r, err := jsonl.Open(ch.Path)
		if err != nil {
			return 0, err
		}

		c := &cursor{chunk: ch, reader: r}

		ok, err := c.advance()
		if err != nil {
			r.Close()

			return 0, err
		}

		if !ok {
			r.Close()

			continue
		}

		h = append(h, c)
	}

	heap.Init(&h)

	written := 0

	for h.Len() > 0 {
		c := h[0]

		err := sink.WriteRaw(c.raw)
		if err != nil {
			return written, fmt.Errorf("write merged record: %w", err)
		}

		written++

		ok, err := c.advance()
		if err != nil {
			return written, err
		}

		if ok {
			heap.Fix(&h, 0)

			continue
		}

		heap.Pop(&h)
		c.reader.Close()
	}

	return written, nil
}
