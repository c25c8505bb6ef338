package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/andresmejia3/scribe/internal/bridgeerr"
)

// outputEvent is one line of `--json` output. The host UI switches on Type and, for errors,
// on Category.
type outputEvent struct {
	Type      string `json:"type"`
	Step      string `json:"step,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Category  string `json:"category,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
}

type eventWriter struct {
	enc *json.Encoder
	w   *bufio.Writer
	mu  sync.Mutex
}

func newEventWriter(writer io.Writer) *eventWriter {
	buf := bufio.NewWriter(writer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &eventWriter{enc: enc, w: buf}
}

func (e *eventWriter) emit(ev outputEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.enc.Encode(ev)
	_ = e.w.Flush()
}

func (e *eventWriter) Progress(step string) {
	e.emit(outputEvent{Type: "progress", Step: step})
}

func (e *eventWriter) Result(payload any) {
	e.emit(outputEvent{Type: "result", Payload: payload})
}

func (e *eventWriter) Error(err error) {
	ev := outputEvent{Type: "error", Category: "error", Error: err.Error()}
	if kind, ok := bridgeerr.KindOf(err); ok {
		ev.Category = kind.String()
	}
	var be *bridgeerr.Error
	if errors.As(err, &be) {
		ev.RequestID = be.RequestID
		ev.Stderr = be.Stderr
	}
	e.emit(ev)
}
