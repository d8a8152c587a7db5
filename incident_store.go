package zerohack

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oarkflow/log"
)

const incidentSchema = `
CREATE TABLE IF NOT EXISTS incidents (
	id TEXT PRIMARY KEY,
	detection_timestamp TEXT NOT NULL,
	source_ip TEXT,
	attack_type TEXT,
	explanation TEXT,
	confidence REAL,
	archival_ref TEXT,
	ledger_ref TEXT,
	layer_outputs_json TEXT,
	full_verdict_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_incidents_source_ip ON incidents(source_ip);
CREATE INDEX IF NOT EXISTS idx_incidents_detection_timestamp ON incidents(detection_timestamp);
`

// StoredIncident is the persisted row shape for one incident.
type StoredIncident struct {
	ID                 string        `db:"id" json:"id"`
	DetectionTimestamp string        `db:"detection_timestamp" json:"detection_timestamp"`
	SourceIP           string        `db:"source_ip" json:"source_ip"`
	AttackType         string        `db:"attack_type" json:"attack_type"`
	Explanation        string        `db:"explanation" json:"explanation"`
	Confidence         float64       `db:"confidence" json:"confidence"`
	ArchivalRef        string        `db:"archival_ref" json:"archival_ref,omitempty"`
	LedgerRef          string        `db:"ledger_ref" json:"ledger_ref,omitempty"`
	LayerOutputsJSON   string        `db:"layer_outputs_json" json:"-"`
	FullVerdictJSON    string        `db:"full_verdict_json" json:"-"`
	LayerOutputs       []LayerOutput `db:"-" json:"layer_outputs,omitempty"`
}

// PeriodCount is one bucket in a threats-over-time series.
type PeriodCount struct {
	PeriodStart   string `db:"period_start" json:"period_start"`
	IncidentCount int    `db:"incident_count" json:"count"`
}

// AttackTypeCount is one attack type's share of the incident log.
type AttackTypeCount struct {
	AttackType    string `db:"attack_type" json:"attack_type"`
	IncidentCount int    `db:"incident_count" json:"count"`
}

// SourceCount is one source IP's share of the incident log.
type SourceCount struct {
	SourceIP      string `db:"source_ip" json:"source_ip"`
	IncidentCount int    `db:"incident_count" json:"count"`
}

// SQLIncidentStore persists incidents in a local SQLite database.
type SQLIncidentStore struct {
	db     *sqlx.DB
	logger *log.Logger
}

func NewSQLIncidentStore(path string, logger *log.Logger) (*SQLIncidentStore, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open incident store: %w", err)
	}
	if _, err := db.Exec(incidentSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize incident store: %w", err)
	}
	logger.Info().Str("path", path).Msg("incident store ready")
	return &SQLIncidentStore{db: db, logger: logger}, nil
}

func (s *SQLIncidentStore) Close() error { return s.db.Close() }

func (s *SQLIncidentStore) HealthCheck() error { return s.db.Ping() }

// AddIncident inserts one incident row.
func (s *SQLIncidentStore) AddIncident(ctx context.Context, incident *Incident) error {
	layerJSON, err := json.Marshal(incident.LayerOutputs)
	if err != nil {
		return fmt.Errorf("encode layer outputs: %w", err)
	}
	verdictJSON, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("encode incident: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents (
			id, detection_timestamp, source_ip, attack_type, explanation,
			confidence, archival_ref, ledger_ref, layer_outputs_json, full_verdict_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		incident.ID,
		incident.DetectionTimestamp.UTC().Format(time.RFC3339Nano),
		incident.SourceIP,
		incident.AttackType,
		incident.Explanation,
		incident.Confidence,
		incident.ArchivalRef,
		incident.LedgerRef,
		string(layerJSON),
		string(verdictJSON),
	)
	if err != nil {
		return fmt.Errorf("insert incident %s: %w", incident.ID, err)
	}
	return nil
}

// GetIncident fetches one row by id.
func (s *SQLIncidentStore) GetIncident(ctx context.Context, id string) (*StoredIncident, error) {
	var row StoredIncident
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM incidents WHERE id = ?`, id); err != nil {
		return nil, err
	}
	s.decodeLayers(&row)
	return &row, nil
}

// RecentIncidents returns the newest rows first.
func (s *SQLIncidentStore) RecentIncidents(ctx context.Context, limit int) ([]StoredIncident, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []StoredIncident
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM incidents ORDER BY detection_timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		s.decodeLayers(&rows[i])
	}
	return rows, nil
}

// IncidentsByIP returns the newest rows involving one source IP.
func (s *SQLIncidentStore) IncidentsByIP(ctx context.Context, sourceIP string, limit int) ([]StoredIncident, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []StoredIncident
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM incidents WHERE source_ip = ? ORDER BY detection_timestamp DESC LIMIT ?`, sourceIP, limit)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		s.decodeLayers(&rows[i])
	}
	return rows, nil
}

// ThreatsOverTime buckets incident counts by hour, day, week, or month and
// returns them in chronological order.
func (s *SQLIncidentStore) ThreatsOverTime(ctx context.Context, period string, limit int) ([]PeriodCount, error) {
	format := "%Y-%m-%d"
	switch period {
	case "hour":
		format = "%Y-%m-%d %H:00:00"
	case "week":
		format = "%Y-%W"
	case "month":
		format = "%Y-%m-01"
	case "day", "":
	default:
		s.logger.Warn().Str("period", period).Msg("unsupported analytics period; defaulting to day")
	}
	if limit <= 0 {
		limit = 30
	}
	query := fmt.Sprintf(`
		SELECT strftime('%s', detection_timestamp) AS period_start, COUNT(id) AS incident_count
		FROM incidents
		GROUP BY period_start
		ORDER BY period_start DESC
		LIMIT ?`, format)
	var rows []PeriodCount
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// AttackTypeDistribution counts incidents per attack type, busiest first.
func (s *SQLIncidentStore) AttackTypeDistribution(ctx context.Context) ([]AttackTypeCount, error) {
	var rows []AttackTypeCount
	err := s.db.SelectContext(ctx, &rows, `
		SELECT attack_type, COUNT(id) AS incident_count
		FROM incidents
		WHERE attack_type IS NOT NULL AND attack_type != ''
		GROUP BY attack_type
		ORDER BY incident_count DESC`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// TopOffendingIPs ranks source IPs by incident count. Placeholder sources
// are excluded.
func (s *SQLIncidentStore) TopOffendingIPs(ctx context.Context, limit int) ([]SourceCount, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []SourceCount
	err := s.db.SelectContext(ctx, &rows, `
		SELECT source_ip, COUNT(id) AS incident_count
		FROM incidents
		WHERE source_ip IS NOT NULL AND source_ip != '' AND source_ip != 'N/A'
		GROUP BY source_ip
		ORDER BY incident_count DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *SQLIncidentStore) decodeLayers(row *StoredIncident) {
	if row.LayerOutputsJSON == "" {
		return
	}
	if err := json.Unmarshal([]byte(row.LayerOutputsJSON), &row.LayerOutputs); err != nil {
		s.logger.Warn().Str("incident_id", row.ID).Err(err).Msg("stored layer outputs failed to decode")
	}
}
