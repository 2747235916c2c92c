package transfer

import (
	"github.com/sheerbytes/chunkcast/internal/scheduler"
)

// dispatch runs scheduling cycles until the shutdown signal is set or a
// cycle fails. With nothing to send it parks on the queue's wake channel.
func (s *Session) dispatch() error {
	cycle := scheduler.NewCycle(s.queue, s.cfg.Weights, s.source, s.out, s.cfg.Codec.ChunkSize)
	cycle.Stopped = s.signal.IsSet

	idle := false
	for {
		if s.signal.IsSet() {
			return nil
		}
		if idle || s.queue.Len() == 0 {
			select {
			case <-s.queue.Ready():
			case <-s.signal.Done():
				return nil
			}
		}

		st, err := cycle.Run()
		if st.Chunks > 0 {
			s.cfg.Observer.ChunksSent(st.Chunks, st.Bytes)
		}
		for _, t := range st.Finished {
			s.cfg.Observer.FileCompleted(t.Priority)
			s.logger.Info("file sent", "file", t.Filename, "priority", t.Priority, "chunks", t.ChunksSent)
		}
		if err != nil {
			if s.signal.IsSet() {
				return nil
			}
			return err
		}
		idle = st.Idle()
	}
}
