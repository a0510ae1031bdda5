// Package chunker splits byte streams into content-defined chunks. Chunk
// boundaries come from a Rabin rolling hash, so an insertion or deletion in
// one part of a file does not shift the boundaries elsewhere. Identical byte
// content always yields the identical chunk sequence, independent of
// surrounding files; cross-file and cross-commit deduplication depends on
// this.
package chunker

import (
	"bytes"
	"io"
	"runtime"
	"sync"

	boxochunker "github.com/ipfs/boxo/chunker"

	"github.com/windvcs/wind/pkg/model"
)

// Chunk size bounds. The minimum and maximum cap pathological inputs: an
// all-zero file never produces a chunk beyond MaxSize, and boundary storms
// below MinSize are suppressed.
const (
	MinSize = 4 * 1024
	AvgSize = 64 * 1024
	MaxSize = 256 * 1024
)

// Chunk is one content-defined segment of a file.
type Chunk struct {
	Offset uint64
	Length uint32
	Oid    model.Oid
	Data   []byte
}

// Chunker yields the chunks of a single stream. It carries no cross-file
// state; every file starts a fresh rolling hash.
type Chunker interface {
	// Next returns the next chunk. It returns io.EOF when the stream is
	// exhausted.
	Next() (Chunk, error)
}

// New creates a Chunker over r using the Rabin splitter from boxo/chunker
// with the package's size bounds.
func New(r io.Reader) Chunker {
	return &rabinChunker{
		splitter: boxochunker.NewRabinMinMax(r, MinSize, AvgSize, MaxSize),
	}
}

type rabinChunker struct {
	splitter boxochunker.Splitter
	offset   uint64
}

func (c *rabinChunker) Next() (Chunk, error) {
	data, err := c.splitter.NextBytes()
	if err != nil {
		return Chunk{}, err
	}
	ch := Chunk{
		Offset: c.offset,
		Length: uint32(len(data)),
		Oid:    model.ComputeOid(data),
		Data:   data,
	}
	c.offset += uint64(len(data))
	return ch, nil
}

// ChunkBytes splits data into its full chunk sequence. Empty input yields no
// chunks.
func ChunkBytes(data []byte) ([]Chunk, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return ChunkReader(bytes.NewReader(data))
}

// ChunkReader splits r into its full chunk sequence, hashing chunks on a
// bounded set of workers. The returned order is the stream order.
func ChunkReader(r io.Reader) ([]Chunk, error) {
	splitter := boxochunker.NewRabinMinMax(r, MinSize, AvgSize, MaxSize)

	type raw struct {
		index  int
		offset uint64
		data   []byte
	}
	type hashed struct {
		index int
		chunk Chunk
	}

	workers := runtime.NumCPU()
	rawChan := make(chan raw, workers)
	hashedChan := make(chan hashed, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rc := range rawChan {
				hashedChan <- hashed{
					index: rc.index,
					chunk: Chunk{
						Offset: rc.offset,
						Length: uint32(len(rc.data)),
						Oid:    model.ComputeOid(rc.data),
						Data:   rc.data,
					},
				}
			}
		}()
	}

	collected := make(map[int]Chunk)
	var collectorWg sync.WaitGroup
	collectorWg.Add(1)
	go func() {
		defer collectorWg.Done()
		for h := range hashedChan {
			collected[h.index] = h.chunk
		}
	}()

	var offset uint64
	var readErr error
	count := 0
	for {
		data, err := splitter.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = err
			break
		}
		rawChan <- raw{index: count, offset: offset, data: data}
		offset += uint64(len(data))
		count++
	}
	close(rawChan)
	wg.Wait()
	close(hashedChan)
	collectorWg.Wait()

	if readErr != nil {
		return nil, readErr
	}

	chunks := make([]Chunk, count)
	for i := 0; i < count; i++ {
		chunks[i] = collected[i]
	}
	return chunks, nil
}
