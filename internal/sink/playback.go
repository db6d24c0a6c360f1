package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"hiveops/internal/clock"
)

// ReplayLog replays telemetry rows from r to writer. A speed >0 accelerates playback.
// If speed <= 0, no artificial delay is inserted.
func ReplayLog(ctx context.Context, r io.Reader, writer TelemetryWriter, c clock.Clock, speed float64) error {
	dec := json.NewDecoder(r)
	var prev time.Time
	for {
		var row AgentRow
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if !prev.IsZero() && speed > 0 {
			diff := row.Timestamp.Sub(prev)
			if speed != 1 {
				diff = time.Duration(float64(diff) / speed)
			}
			if err := clock.Sleep(ctx, c, diff); err != nil {
				return err
			}
		}
		if err := writer.Write(row); err != nil {
			return err
		}
		prev = row.Timestamp
	}
}

// ReplayLogFile opens a file and replays its telemetry rows.
func ReplayLogFile(ctx context.Context, path string, writer TelemetryWriter, c clock.Clock, speed float64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return ReplayLog(ctx, f, writer, c, speed)
}
