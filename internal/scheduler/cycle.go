package scheduler

import (
	"errors"
	"fmt"
	"io"

	"github.com/sheerbytes/chunkcast/internal/bufpool"
)

// ChunkSource opens a file positioned at a byte offset.
type ChunkSource interface {
	Open(filename string, offset int64) (io.ReadCloser, error)
}

// Sink receives the output of a scheduling cycle.
// data passed to SendChunk is only valid for the duration of the call.
type Sink interface {
	SendChunk(filename string, data []byte) error
	SendEnd(filename string) error
}

// Stats summarizes one scheduling cycle.
type Stats struct {
	Chunks   int
	Bytes    int64
	Finished []Task
	Stopped  bool
}

// Idle reports whether the cycle made no progress.
func (s Stats) Idle() bool {
	return s.Chunks == 0 && len(s.Finished) == 0
}

// Cycle runs weighted round-robin passes over a Queue.
// Each pass gives every task up to Weights.Quota(task.Priority) chunks, reading
// each file from its resume offset.
type Cycle struct {
	Queue     *Queue
	Weights   Weights
	Source    ChunkSource
	Sink      Sink
	ChunkSize int
	// Stopped is polled before each task and each chunk; nil never stops.
	Stopped func() bool

	buffers *bufpool.Pool
}

// NewCycle builds a Cycle drawing buffers from the shared pool for chunkSize.
func NewCycle(q *Queue, w Weights, src ChunkSource, sink Sink, chunkSize int) *Cycle {
	return &Cycle{
		Queue:     q,
		Weights:   w,
		Source:    src,
		Sink:      sink,
		ChunkSize: chunkSize,
		buffers:   bufpool.For(chunkSize),
	}
}

func (c *Cycle) stopped() bool {
	return c.Stopped != nil && c.Stopped()
}

// Run performs one pass over the queue.
// It returns early, with Stats.Stopped set, once Stopped reports true.
func (c *Cycle) Run() (Stats, error) {
	if c.buffers == nil || c.buffers.Size() != c.ChunkSize {
		c.buffers = bufpool.For(c.ChunkSize)
	}
	var st Stats
	i := 0
	for {
		if c.stopped() {
			st.Stopped = true
			return st, nil
		}
		task, ok := c.Queue.Get(i)
		if !ok {
			return st, nil
		}
		quota := c.Weights.Quota(task.Priority)
		if quota == 0 {
			// paused, not removed
			i++
			continue
		}

		finished, err := c.serve(&task, quota, &st)
		if err != nil {
			// keep progress visible even on failure
			c.Queue.Set(i, task)
			return st, err
		}
		if finished {
			c.Queue.RemoveAt(i)
			st.Finished = append(st.Finished, task)
			continue
		}
		c.Queue.Set(i, task)
		if st.Stopped {
			return st, nil
		}
		i++
	}
}

// serve sends up to quota chunks for task and reports whether the file ended.
func (c *Cycle) serve(task *Task, quota int, st *Stats) (bool, error) {
	r, err := c.Source.Open(task.Filename, task.ChunksSent*int64(c.ChunkSize))
	if err != nil {
		return false, fmt.Errorf("open %s: %w", task.Filename, err)
	}
	defer r.Close()

	buf := c.buffers.Get()
	defer c.buffers.Put(buf)

	for n := 0; n < quota; n++ {
		if c.stopped() {
			st.Stopped = true
			return false, nil
		}
		data, err := readChunk(r, *buf)
		if err != nil {
			return false, fmt.Errorf("read %s at chunk %d: %w", task.Filename, task.ChunksSent, err)
		}
		if len(data) == 0 {
			if err := c.Sink.SendEnd(task.Filename); err != nil {
				return false, err
			}
			return true, nil
		}
		if err := c.Sink.SendChunk(task.Filename, data); err != nil {
			return false, err
		}
		task.ChunksSent++
		st.Chunks++
		st.Bytes += int64(len(data))
	}
	return false, nil
}

// readChunk fills buf from r. A short result means end of file was reached.
func readChunk(r io.Reader, buf []byte) ([]byte, error) {
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:n], nil
}
