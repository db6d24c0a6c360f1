package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// JSONStdoutWriter prints telemetry and events as JSON lines to STDOUT.
type JSONStdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

func (w *JSONStdoutWriter) print(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// Write outputs a telemetry row in JSON format.
func (w *JSONStdoutWriter) Write(row AgentRow) error {
	return w.print(row)
}

// WriteEvent outputs a store event in JSON format.
func (w *JSONStdoutWriter) WriteEvent(row EventRow) error {
	return w.print(row)
}
