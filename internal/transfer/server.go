package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lockdown/internal/model"
)

// ErrServerClosed is returned by Serve after Close or context cancellation.
var ErrServerClosed = errors.New("transfer: server closed")

// Status is a point-in-time view of the server for the proctor station.
type Status struct {
	ExamID        int64  `json:"exam_id"`
	Title         string `json:"title"`
	QuestionCount int    `json:"question_count"`
	Addr          string `json:"addr,omitempty"`
	Listening     bool   `json:"listening"`
	Served        int64  `json:"served"`
	Failed        int64  `json:"failed"`
}

// Server writes the same encoded bundle to every accepted connection and
// then closes it.
type Server struct {
	payload      []byte
	examID       int64
	title        string
	questions    int
	writeTimeout time.Duration
	log          zerolog.Logger

	mu     sync.Mutex
	ln     net.Listener
	closed bool
	conns  sync.WaitGroup
	served atomic.Int64
	failed atomic.Int64
}

// NewServer encodes bundle once up front, so a bundle that cannot be
// encoded is rejected before anything listens.
func NewServer(bundle *model.TransferBundle, writeTimeout time.Duration, log zerolog.Logger) (*Server, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, bundle); err != nil {
		return nil, err
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	return &Server{
		payload:      buf.Bytes(),
		examID:       bundle.Exam.ID,
		title:        bundle.Exam.Title,
		questions:    len(bundle.Questions),
		writeTimeout: writeTimeout,
		log: log.With().
			Str("component", "transfer_server").
			Int64("exam_id", bundle.Exam.ID).
			Logger(),
	}, nil
}

// ListenAndServe binds addr and serves until ctx is cancelled or Close is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Close is
// called, then waits for in-flight writes. A failed client never stops the
// accept loop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	if s.ln != nil {
		s.mu.Unlock()
		return errors.New("transfer: server already serving")
	}
	s.ln = ln
	s.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stop:
		}
	}()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Int("questions", s.questions).
		Msg("Transfer server listening")

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				s.conns.Wait()
				s.log.Info().Int64("served", s.served.Load()).Msg("Transfer server stopped")
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("Accept failed")
				time.Sleep(backoff)
				continue
			}
			s.conns.Wait()
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		s.conns.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.conns.Done()
	defer conn.Close()

	log := s.log.With().
		Str("conn_id", uuid.NewString()).
		Str("remote", conn.RemoteAddr().String()).
		Logger()

	start := time.Now()
	if err := conn.SetWriteDeadline(start.Add(s.writeTimeout)); err != nil {
		log.Error().Err(err).Msg("Failed to set write deadline")
	}
	if _, err := conn.Write(s.payload); err != nil {
		s.failed.Add(1)
		log.Error().Err(err).Msg("Failed to send bundle")
		return
	}

	n := s.served.Add(1)
	log.Info().
		Int("bytes", len(s.payload)).
		Dur("took", time.Since(start)).
		Int64("served", n).
		Msg("Bundle sent")
}

// Close stops accepting. Blocked Accept calls return immediately.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Status reports the bundle being served and connection counters.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ExamID:        s.examID,
		Title:         s.title,
		QuestionCount: s.questions,
		Listening:     s.ln != nil && !s.closed,
		Served:        s.served.Load(),
		Failed:        s.failed.Load(),
	}
	if s.ln != nil {
		st.Addr = s.ln.Addr().String()
	}
	return st
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
