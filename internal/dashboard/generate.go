// Package dashboard renders Grafana dashboards over the GreptimeDB tables
// the sink writes.
package dashboard

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"hiveops/internal/sink"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Data is passed to every dashboard template.
type Data struct {
	MissionID  string
	AgentTable string
	EventTable string
}

// Render parses dashboard templates and writes rendered dashboards to outDir.
// Templates read the datasource uid through the env function.
func Render(outDir, missionID string) error {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
	}
	tmpl, err := template.New("dashboards").Funcs(funcMap).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	data := Data{MissionID: missionID, AgentTable: sink.AgentTableName, EventTable: sink.EventTableName}
	for _, t := range tmpl.Templates() {
		if !strings.HasSuffix(t.Name(), ".tmpl") {
			continue
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(t.Name(), ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := t.Execute(f, data); err != nil {
			f.Close()
			return fmt.Errorf("render %s: %w", t.Name(), err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
