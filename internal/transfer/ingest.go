package transfer

import (
	"errors"
	"io"

	"github.com/sheerbytes/chunkcast/internal/scheduler"
	"github.com/sheerbytes/chunkcast/pkg/protocol"
)

// Rejection reasons passed to Observer.RequestRejected.
const (
	RejectNotFound = "not_found"
	RejectPriority = "unknown_priority"
)

// ingest reads GET requests until the client closes its side, a terminal
// error occurs, or the shutdown signal is set.
func (s *Session) ingest() error {
	for {
		if s.signal.IsSet() {
			return nil
		}
		f, err := s.cfg.Codec.ReadFrame(s.stream)
		if err != nil {
			if s.signal.IsSet() {
				return nil
			}
			if errors.Is(err, io.EOF) && !protocol.IsFramingError(err) {
				s.logger.Debug("client closed stream")
				return nil
			}
			if protocol.IsFramingError(err) {
				return err
			}
			return &ConnectionError{Op: "read", Err: err}
		}
		req, err := protocol.ParseGetRequest(f)
		if err != nil {
			return err
		}
		if err := s.handle(req); err != nil {
			return err
		}
	}
}

// handle answers one request. A NotFoundError is recovered here.
func (s *Session) handle(req protocol.GetRequest) error {
	err := s.admit(req)
	var nf *NotFoundError
	if errors.As(err, &nf) {
		s.logger.Warn("request rejected", "file", req.Filename, "priority", req.Priority, "reason", nf.Reason)
		s.cfg.Observer.RequestRejected(rejectReason(nf))
		return s.out.WriteFrame(protocol.ErrorFrame(req.Filename))
	}
	return err
}

func (s *Session) admit(req protocol.GetRequest) error {
	if !s.lookup.Exists(req.Filename) {
		return &NotFoundError{Filename: req.Filename, Reason: "not in manifest"}
	}
	if s.cfg.StrictPriority && !s.cfg.Weights.Known(req.Priority) {
		return &NotFoundError{Filename: req.Filename, Reason: "unknown priority " + req.Priority}
	}
	size, err := s.lookup.SizeOf(req.Filename)
	if err != nil {
		return &IOError{Filename: req.Filename, Err: err}
	}
	if err := s.out.WriteFrame(protocol.OKFrame(req.Filename, size)); err != nil {
		return err
	}
	s.queue.Append(scheduler.Task{Filename: req.Filename, Priority: req.Priority})
	s.cfg.Observer.RequestAccepted(req.Priority)
	s.logger.Info("request accepted", "file", req.Filename, "priority", req.Priority, "size", size, "queued", s.queue.Len())
	return nil
}

func rejectReason(nf *NotFoundError) string {
	if nf.Reason == "not in manifest" {
		return RejectNotFound
	}
	return RejectPriority
}
