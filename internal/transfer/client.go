package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lockdown/internal/model"
)

// ErrFetchFailed wraps every client-side failure.
var ErrFetchFailed = errors.New("failed to fetch exam")

// Client receives one bundle from a transfer server.
type Client struct {
	Timeout time.Duration // dial plus read budget
	MaxBody int64
	Log     zerolog.Logger
}

// NewClient returns a client with the given budget and body limit.
func NewClient(timeout time.Duration, maxBody int64, log zerolog.Logger) *Client {
	return &Client{
		Timeout: timeout,
		MaxBody: maxBody,
		Log:     log.With().Str("component", "transfer_client").Logger(),
	}
}

// Fetch connects to addr and reads exactly one bundle. Nothing is returned
// unless the whole bundle arrived and validated.
func (c *Client) Fetch(ctx context.Context, addr string) (*model.TransferBundle, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.Log.Warn().Err(err).Str("addr", addr).Msg("Transfer dial failed")
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	// Unblock the read if ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	b, err := Decode(conn, c.MaxBody)
	if err != nil {
		c.Log.Warn().Err(err).Str("addr", addr).Msg("Transfer read failed")
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	c.Log.Info().
		Str("addr", addr).
		Int64("exam_id", b.Exam.ID).
		Int("questions", len(b.Questions)).
		Msg("Bundle received")
	return b, nil
}
