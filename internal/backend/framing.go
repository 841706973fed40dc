package backend

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxFrameSize bounds a single newline-delimited frame.
const maxFrameSize = 10 * 1024 * 1024

// frameCodec implements the newline-delimited JSON framing shared by the
// stdio and socket transports. Writes are serialized; reading runs on a
// single goroutine owned by the transport.
type frameCodec struct {
	writeMu sync.Mutex
	w       io.Writer
	scanner *bufio.Scanner
}

func newFrameCodec(r io.Reader, w io.Writer) *frameCodec {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	return &frameCodec{
		w:       w,
		scanner: scanner,
	}
}

// writeFrame marshals one message and writes it as a single line.
func (c *frameCodec) writeFrame(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// readLoop decodes inbound lines until the reader fails, delivering frames
// through handlers. It returns the terminal read error, io.EOF for a
// clean remote close.
func (c *frameCodec) readLoop(handlers Handlers) error {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			if handlers.OnError != nil {
				handlers.OnError(fmt.Errorf("decoding frame: %w", err))
			}
			continue
		}
		if handlers.OnMessage != nil {
			handlers.OnMessage(&msg)
		}
	}
	if err := c.scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
