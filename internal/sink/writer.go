package sink

// TelemetryWriter receives agent telemetry rows.
type TelemetryWriter interface {
	Write(row AgentRow) error
}

// EventWriter receives store events.
type EventWriter interface {
	WriteEvent(row EventRow) error
}

type batchWriter interface {
	WriteBatch(rows []AgentRow) error
}

type batchEventWriter interface {
	WriteEvents(rows []EventRow) error
}

// Writer is a sink for both telemetry and events.
type Writer interface {
	TelemetryWriter
	EventWriter
}

// WriteBatch sends rows to w, batching when w supports it.
func WriteBatch(w TelemetryWriter, rows []AgentRow) error {
	if bw, ok := w.(batchWriter); ok {
		return bw.WriteBatch(rows)
	}
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}
