package zerohack

import (
	"sort"
	"sync"
	"time"
)

// SourceProfiler keeps short-lived per-source analysis history so the
// per-IP surface can report behavioral context without hitting persistent
// storage.
type SourceProfiler struct {
	mu         sync.Mutex
	window     time.Duration
	maxEntries int
	data       map[string]*sourceProfile
}

type sourceProfile struct {
	observations []sourceObservation
}

type sourceObservation struct {
	timestamp  time.Time
	attackType string
	threat     bool
}

// SourceSnapshot summarizes the recent analyses involving one source IP.
type SourceSnapshot struct {
	Analyses          int      `json:"analyses"`
	Threats           int      `json:"threats"`
	UniqueAttackTypes int      `json:"unique_attack_types"`
	AttackTypes       []string `json:"attack_types,omitempty"`
	ThreatRatio       float64  `json:"threat_ratio"`
}

// NewSourceProfiler creates a profiler with the provided sliding window and
// per-source retention size.
func NewSourceProfiler(window time.Duration, maxEntries int) *SourceProfiler {
	if window <= 0 {
		window = 15 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &SourceProfiler{
		window:     window,
		maxEntries: maxEntries,
		data:       make(map[string]*sourceProfile),
	}
}

// Track stores one analysis outcome for the given source IP.
func (p *SourceProfiler) Track(sourceIP, attackType string, threat bool, now time.Time) {
	if sourceIP == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prof := p.ensureProfile(sourceIP)
	obs := sourceObservation{timestamp: now, threat: threat}
	if threat {
		obs.attackType = attackType
	}
	prof.observations = append(prof.observations, obs)

	// Trim observations beyond the sliding window.
	cutoff := now.Add(-p.window)
	prof.observations = trimObservations(prof.observations, cutoff)

	// Enforce max entries to keep memory bounded.
	if len(prof.observations) > p.maxEntries {
		prof.observations = prof.observations[len(prof.observations)-p.maxEntries:]
	}
}

// Snapshot returns an aggregated view of the recent analyses involving the
// provided source IP.
func (p *SourceProfiler) Snapshot(sourceIP string, now time.Time) SourceSnapshot {
	if sourceIP == "" {
		return SourceSnapshot{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prof, ok := p.data[sourceIP]
	if !ok {
		return SourceSnapshot{}
	}

	cutoff := now.Add(-p.window)
	prof.observations = trimObservations(prof.observations, cutoff)

	if len(prof.observations) == 0 {
		return SourceSnapshot{}
	}

	attackSet := make(map[string]struct{})
	threats := 0
	for _, obs := range prof.observations {
		if !obs.threat {
			continue
		}
		threats++
		if obs.attackType != "" {
			attackSet[obs.attackType] = struct{}{}
		}
	}

	attacks := make([]string, 0, len(attackSet))
	for attack := range attackSet {
		attacks = append(attacks, attack)
	}
	sort.Strings(attacks)

	analyses := len(prof.observations)
	ratio := 0.0
	if analyses > 0 {
		ratio = float64(threats) / float64(analyses)
	}

	return SourceSnapshot{
		Analyses:          analyses,
		Threats:           threats,
		UniqueAttackTypes: len(attacks),
		AttackTypes:       attacks,
		ThreatRatio:       ratio,
	}
}

func (p *SourceProfiler) ensureProfile(sourceIP string) *sourceProfile {
	prof, ok := p.data[sourceIP]
	if !ok {
		prof = &sourceProfile{}
		p.data[sourceIP] = prof
	}
	return prof
}

func trimObservations(observations []sourceObservation, cutoff time.Time) []sourceObservation {
	idx := 0
	for idx < len(observations) && observations[idx].timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		return observations[idx:]
	}
	return observations
}
