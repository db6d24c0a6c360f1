package sink

// MultiWriter fan-outs telemetry and event rows to multiple writers.
type MultiWriter struct {
	telewriters []TelemetryWriter
	evwriters   []EventWriter
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(tws []TelemetryWriter, ews []EventWriter) *MultiWriter {
	return &MultiWriter{telewriters: tws, evwriters: ews}
}

// Write sends a telemetry row to all writers.
func (mw *MultiWriter) Write(row AgentRow) error {
	for _, w := range mw.telewriters {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteBatch sends multiple telemetry rows to all writers, using batch if supported.
func (mw *MultiWriter) WriteBatch(rows []AgentRow) error {
	for _, w := range mw.telewriters {
		if err := WriteBatch(w, rows); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvent sends an event row to all event writers.
func (mw *MultiWriter) WriteEvent(row EventRow) error {
	for _, w := range mw.evwriters {
		if err := w.WriteEvent(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvents sends multiple events to all event writers, using batch if supported.
func (mw *MultiWriter) WriteEvents(rows []EventRow) error {
	for _, w := range mw.evwriters {
		if bw, ok := w.(batchEventWriter); ok {
			if err := bw.WriteEvents(rows); err != nil {
				return err
			}
			continue
		}
		for _, r := range rows {
			if err := w.WriteEvent(r); err != nil {
				return err
			}
		}
	}
	return nil
}
