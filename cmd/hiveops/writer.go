package main

import (
	"log/slog"
	"os"

	"hiveops/internal/sink"
)

// newWriters sets up telemetry and event writers based on flags and env vars.
// quiet drops STDOUT output while the console owns the terminal. It returns
// the writers and a cleanup function to close any resources.
func newWriters(printOnly, quiet bool, exportPath string, log *slog.Logger) ([]sink.TelemetryWriter, []sink.EventWriter, func(), error) {
	cleanup := func() {}
	var tws []sink.TelemetryWriter
	var ews []sink.EventWriter

	w, err := baseWriter(printOnly, log)
	if err != nil {
		return nil, nil, nil, err
	}
	if _, stdout := w.(*sink.JSONStdoutWriter); !stdout || !quiet {
		tws = append(tws, w)
		ews = append(ews, w)
	}
	if exportPath == "" {
		return tws, ews, cleanup, nil
	}
	fw, err := sink.NewFileWriter(exportPath, exportPath+".events")
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup = func() { fw.Close() }
	return append(tws, fw), append(ews, fw), cleanup, nil
}

// baseWriter picks GreptimeDB when an endpoint is configured, STDOUT otherwise.
func baseWriter(printOnly bool, log *slog.Logger) (sink.Writer, error) {
	endpoint := os.Getenv("GREPTIMEDB_ENDPOINT")
	if printOnly || endpoint == "" {
		return sink.NewJSONStdoutWriter(), nil
	}
	db := os.Getenv("GREPTIMEDB_DATABASE")
	if db == "" {
		db = "public"
	}
	w, err := sink.NewGreptimeDBWriter(endpoint, db, log)
	if err != nil {
		return nil, err
	}
	return w, nil
}
