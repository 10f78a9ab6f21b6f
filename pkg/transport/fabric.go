package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/replog-io/replog/util"
)

const maxLineSize = 16 * 1024 * 1024 // 16MB upper bound per envelope

// Message is the routed envelope carried by the fabric. The body is kept
// raw so the dispatcher can peek at its type before decoding fully.
type Message struct {
	Src  string          `json:"src"`
	Dest string          `json:"dest"`
	Body json.RawMessage `json:"body"`
}

// Fabric reads newline-delimited JSON envelopes from a reader and writes
// them to a writer. Delivery is assumed reliable, in-order and
// at-least-once by the layers above; the fabric itself never retries.
type Fabric struct {
	r     io.Reader
	w     io.Writer
	wmu   sync.Mutex
	inbox chan Message
}

func NewFabric(r io.Reader, w io.Writer, inboxSize int) *Fabric {
	if inboxSize <= 0 {
		inboxSize = 128
	}
	return &Fabric{
		r:     r,
		w:     w,
		inbox: make(chan Message, inboxSize),
	}
}

// Inbox returns the channel inbound envelopes are delivered on. It is
// closed when the underlying reader reaches EOF.
func (f *Fabric) Inbox() <-chan Message {
	return f.inbox
}

// Start launches the reader loop. Malformed lines are logged and skipped;
// framing errors belong to the collaborator producing the stream, not to
// the node core.
func (f *Fabric) Start() {
	go func() {
		defer close(f.inbox)

		scanner := bufio.NewScanner(f.r)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var msg Message
			if err := json.Unmarshal(line, &msg); err != nil {
				util.Warn("Skipping malformed envelope: %v", err)
				continue
			}
			f.inbox <- msg
		}

		if err := scanner.Err(); err != nil {
			util.Error("Fabric reader stopped: %v", err)
		}
	}()
}

// Send marshals and emits one envelope. Writes from concurrent callers are
// serialized so lines never interleave.
func (f *Fabric) Send(src, dest string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}

	data, err := json.Marshal(Message{Src: src, Dest: dest, Body: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	f.wmu.Lock()
	defer f.wmu.Unlock()

	if _, err := f.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	return nil
}
