package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"
	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
)

type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes agent telemetry and store events to GreptimeDB
// via the ingester client.
type GreptimeDBWriter struct {
	client     greptimeClient
	agentTable string
	eventTable string
	log        *slog.Logger
}

// NewGreptimeDBWriter connects to endpoint (host or host:port) and writes
// into database.
func NewGreptimeDBWriter(endpoint, database string, log *slog.Logger) (*GreptimeDBWriter, error) {
	host, port := endpoint, 4001
	if h, p, err := net.SplitHostPort(endpoint); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("greptimedb endpoint %q: %w", endpoint, err)
		}
		host, port = h, n
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &GreptimeDBWriter{
		client:     client,
		agentTable: AgentTableName,
		eventTable: EventTableName,
		log:        log,
	}, nil
}

// Write inserts a single telemetry row.
func (w *GreptimeDBWriter) Write(row AgentRow) error {
	return w.WriteBatch([]AgentRow{row})
}

// WriteBatch inserts multiple telemetry rows in one request.
func (w *GreptimeDBWriter) WriteBatch(rows []AgentRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.agentTable)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("mission_id", types.STRING)
	tbl.AddTagColumn("agent_id", types.STRING)
	tbl.AddTagColumn("role", types.STRING)
	tbl.AddFieldColumn("x", types.FLOAT64)
	tbl.AddFieldColumn("y", types.FLOAT64)
	tbl.AddFieldColumn("z", types.FLOAT64)
	tbl.AddFieldColumn("status", types.STRING)
	tbl.AddFieldColumn("phase", types.STRING)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	for _, r := range rows {
		if err := tbl.AddRow(r.MissionID, r.AgentID, r.Role, r.X, r.Y, r.Z, r.Status, r.Phase, r.Timestamp); err != nil {
			return err
		}
	}
	return w.write(tbl, len(rows))
}

// WriteEvent inserts a single event row.
func (w *GreptimeDBWriter) WriteEvent(row EventRow) error {
	return w.WriteEvents([]EventRow{row})
}

// WriteEvents inserts multiple event rows in one request.
func (w *GreptimeDBWriter) WriteEvents(rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.eventTable)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("mission_id", types.STRING)
	tbl.AddTagColumn("kind", types.STRING)
	tbl.AddFieldColumn("seq", types.UINT64)
	tbl.AddFieldColumn("threat_id", types.UINT64)
	tbl.AddFieldColumn("agent_id", types.STRING)
	tbl.AddFieldColumn("from_state", types.STRING)
	tbl.AddFieldColumn("to_state", types.STRING)
	tbl.AddFieldColumn("object_class", types.STRING)
	tbl.AddFieldColumn("confidence", types.FLOAT64)
	tbl.AddFieldColumn("x", types.FLOAT64)
	tbl.AddFieldColumn("y", types.FLOAT64)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	for _, r := range rows {
		if err := tbl.AddRow(r.MissionID, r.Kind, r.Seq, r.ThreatID, r.AgentID, r.From, r.To, r.ObjectClass, r.Confidence, r.X, r.Y, r.Timestamp); err != nil {
			return err
		}
	}
	return w.write(tbl, len(rows))
}

func (w *GreptimeDBWriter) write(tbl *table.Table, n int) error {
	if _, err := w.client.Write(context.Background(), tbl); err != nil {
		w.log.Error("greptimedb write failed", "table", tbl.GetName(), "err", err)
		return err
	}
	w.log.Debug("greptimedb rows written", "table", tbl.GetName(), "rows", n)
	return nil
}
