package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultKeepalive is the idle period after which a stream sends a comment.
const DefaultKeepalive = 30 * time.Second

// WriteSSE writes ev as one server-sent event frame.
func WriteSSE(w io.Writer, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.Seq, data)
	return err
}

// WriteKeepalive writes an SSE comment frame.
func WriteKeepalive(w io.Writer) error {
	_, err := io.WriteString(w, ": keepalive\n\n")
	return err
}

// Stream copies sub to w until the terminal event has been written, ctx ends,
// or a write fails. flush is called after every frame.
func Stream(ctx context.Context, w io.Writer, flush func(), sub *Subscription, keepalive time.Duration) error {
	if flush == nil {
		flush = func() {}
	}
	for {
		ev, err := sub.Next(ctx, keepalive)
		switch {
		case errors.Is(err, ErrIdle):
			if err := WriteKeepalive(w); err != nil {
				return err
			}
			flush()
			continue
		case errors.Is(err, ErrClosed):
			return nil
		case err != nil:
			return err
		}

		if err := WriteSSE(w, ev); err != nil {
			return err
		}
		flush()
		if ev.Done {
			return nil
		}
	}
}
