package core

import (
	"io"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/crestdata/forcesync/pkg/errors"
)

// MessageType discriminates protocol messages on the wire.
type MessageType string

const (
	MessageTypeRecord MessageType = "RECORD"
	MessageTypeState  MessageType = "STATE"
	MessageTypeLog    MessageType = "LOG"
)

// Message is one JSON line of sync output.
type Message struct {
	Type   MessageType    `json:"type"`
	Record *RecordMessage `json:"record,omitempty"`
	State  *StateMessage  `json:"state,omitempty"`
	Log    *LogMessage    `json:"log,omitempty"`
}

// RecordMessage carries one record of one stream.
type RecordMessage struct {
	Stream    string `json:"stream"`
	Data      Record `json:"data"`
	EmittedAt int64  `json:"emitted_at"`
}

// StateMessage carries the cursors of every stream synced so far, keyed by
// stream name.
type StateMessage struct {
	Data map[string]StreamState `json:"data"`
}

// LogMessage carries an operator-facing message, such as the fixed
// remediation text for a spent rate limit.
type LogMessage struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Emitter writes protocol messages as JSON lines. Writes are serialized so
// record and state lines never interleave.
type Emitter struct {
	mu      sync.Mutex
	w       io.Writer
	enc     *gojson.Encoder
	records int64
	states  int64
}

// NewEmitter creates an emitter writing to w, normally stdout.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w, enc: gojson.NewEncoder(w)}
}

func (e *Emitter) emit(msg *Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(msg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write protocol message")
	}
	return nil
}

// EmitRecord writes one record message.
func (e *Emitter) EmitRecord(stream string, data Record) error {
	err := e.emit(&Message{
		Type: MessageTypeRecord,
		Record: &RecordMessage{
			Stream:    stream,
			Data:      data,
			EmittedAt: time.Now().UnixMilli(),
		},
	})
	if err == nil {
		e.mu.Lock()
		e.records++
		e.mu.Unlock()
	}
	return err
}

// EmitState writes a state message with a copy of the given cursors.
func (e *Emitter) EmitState(state map[string]StreamState) error {
	snapshot := make(map[string]StreamState, len(state))
	for k, v := range state {
		snapshot[k] = v
	}
	err := e.emit(&Message{
		Type:  MessageTypeState,
		State: &StateMessage{Data: snapshot},
	})
	if err == nil {
		e.mu.Lock()
		e.states++
		e.mu.Unlock()
	}
	return err
}

// EmitLog writes an operator-facing log message.
func (e *Emitter) EmitLog(level, message string) error {
	return e.emit(&Message{
		Type: MessageTypeLog,
		Log:  &LogMessage{Level: level, Message: message},
	})
}

// Counts returns the number of record and state messages emitted.
func (e *Emitter) Counts() (records, states int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.records, e.states
}
