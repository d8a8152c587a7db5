package zerohack

import (
	"sync"
	"time"
)

// VerdictLedger keeps the most recent verdict per source IP for a bounded
// time, giving the status and per-IP surfaces a live view without touching
// the incident store.
type VerdictLedger struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*VerdictRecord
}

// VerdictRecord is one remembered analysis outcome.
type VerdictRecord struct {
	SourceIP     string    `json:"source_ip"`
	FinalVerdict string    `json:"final_verdict"`
	Confidence   float64   `json:"confidence"`
	AttackType   string    `json:"attack_type,omitempty"`
	Recorded     time.Time `json:"recorded"`
}

// VerdictSummary aggregates the live ledger for the status surface.
type VerdictSummary struct {
	ActiveThreats map[string]int `json:"active_threats"`
	ActiveSources int            `json:"active_sources"`
	TotalVerdicts int            `json:"total_verdicts"`
	LastUpdated   time.Time      `json:"last_updated"`
}

func NewVerdictLedger(ttl time.Duration) *VerdictLedger {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &VerdictLedger{
		ttl:     ttl,
		entries: make(map[string]*VerdictRecord),
	}
}

// Record stores the latest verdict for the record's source IP. Records
// without a source are dropped; they cannot be looked up anyway.
func (l *VerdictLedger) Record(record VerdictRecord) {
	if record.SourceIP == "" {
		return
	}
	record.Recorded = time.Now()
	l.mu.Lock()
	l.entries[record.SourceIP] = &record
	l.mu.Unlock()
}

// Lookup returns the live record for one source IP.
func (l *VerdictLedger) Lookup(sourceIP string) (VerdictRecord, bool) {
	l.mu.RLock()
	entry, ok := l.entries[sourceIP]
	l.mu.RUnlock()
	if !ok || time.Since(entry.Recorded) > l.ttl {
		return VerdictRecord{}, false
	}
	return *entry, true
}

// Snapshot returns every unexpired record.
func (l *VerdictLedger) Snapshot() []VerdictRecord {
	now := time.Now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	records := make([]VerdictRecord, 0, len(l.entries))
	for _, entry := range l.entries {
		if now.Sub(entry.Recorded) > l.ttl {
			continue
		}
		records = append(records, *entry)
	}
	return records
}

// Cleanup drops expired entries. Run it periodically; Lookup and Snapshot
// already ignore expired records.
func (l *VerdictLedger) Cleanup() {
	now := time.Now()
	l.mu.Lock()
	for ip, entry := range l.entries {
		if now.Sub(entry.Recorded) > l.ttl {
			delete(l.entries, ip)
		}
	}
	l.mu.Unlock()
}

// Summary folds the live records into per-attack counts.
func (l *VerdictLedger) Summary() VerdictSummary {
	summary := VerdictSummary{ActiveThreats: make(map[string]int)}
	records := l.Snapshot()
	summary.ActiveSources = len(records)
	summary.TotalVerdicts = len(records)
	for _, record := range records {
		if record.FinalVerdict == FinalVerdictThreat {
			attack := record.AttackType
			if attack == "" {
				attack = "Aggregated Threat"
			}
			summary.ActiveThreats[attack]++
		}
		if record.Recorded.After(summary.LastUpdated) {
			summary.LastUpdated = record.Recorded
		}
	}
	return summary
}
