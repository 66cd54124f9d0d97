package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"chatcore/internal/domain"
)

// maxSSELine bounds a single SSE line; tool-call argument chunks can be large.
const maxSSELine = 1024 * 1024

// parseSSEStream reads SSE-formatted lines from body and converts each data
// payload into a StreamDelta using the provider-specific parseLine function.
// The returned channel is closed when the stream ends, the body is closed, or
// ctx is cancelled. A read failure, or a body that ends before the [DONE]
// sentinel, is delivered as a final delta with Err set.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			line := scanner.Bytes()

			// Skip empty lines and comments.
			if len(line) == 0 || line[0] == ':' {
				continue
			}

			data, ok := bytes.CutPrefix(line, []byte("data:"))
			if !ok {
				continue
			}
			data = bytes.TrimSpace(data)

			if bytes.Equal(data, []byte("[DONE]")) {
				return
			}

			delta, err := parseLine(data)
			if err != nil || delta == nil {
				continue
			}

			select {
			case ch <- *delta:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		err := scanner.Err()
		if err == nil {
			err = fmt.Errorf("%w: stream ended before [DONE]", domain.ErrProviderUnavailable)
		}
		select {
		case ch <- domain.StreamDelta{Err: &domain.CompletionError{Err: fmt.Errorf("read stream: %w", err)}}:
		case <-ctx.Done():
		}
	}()
	return ch
}
