package zerohack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/oarkflow/log"
)

// SignatureFinding is one deterministic rule match. Emitted findings always
// carry is_match true and confidence 1.0.
type SignatureFinding struct {
	RuleID      string         `json:"rule_id"`
	IsMatch     bool           `json:"is_match"`
	Confidence  float64        `json:"confidence"`
	Explanation string         `json:"explanation"`
	Details     map[string]any `json:"details,omitempty"`
}

// ruleParams carries rule thresholds as a flat numeric map so JSON overrides
// can tune any of them without schema changes.
type ruleParams map[string]float64

func (p ruleParams) value(key string, fallback float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return fallback
}

// ruleDefinition binds a rule id to its detection function and defaults.
type ruleDefinition struct {
	ID            string
	Description   string
	DefaultParams ruleParams
	Check         func(session Session, params ruleParams) []SignatureFinding
}

// RuleOverride is the JSON shape of one per-rule configuration entry.
type RuleOverride struct {
	Enabled    *bool              `json:"enabled,omitempty"`
	Thresholds map[string]float64 `json:"thresholds,omitempty"`
}

type ruleFileConfig struct {
	Rules map[string]RuleOverride `json:"rules"`
}

const maxRuleConfigSize = 1 << 20

// SignatureEngine runs every registered rule over a session. Rules are pure
// functions of the session; a panicking rule loses its own findings only.
type SignatureEngine struct {
	logger  *log.Logger
	metrics MetricsCollector

	rulesPath string

	mu        sync.RWMutex
	overrides map[string]RuleOverride

	watcher   *fsnotify.Watcher
	watchDone chan struct{}

	rules []ruleDefinition
}

func NewSignatureEngine(rulesPath string, logger *log.Logger, metrics MetricsCollector) *SignatureEngine {
	engine := &SignatureEngine{
		logger:    logger,
		metrics:   metrics,
		rulesPath: rulesPath,
		overrides: make(map[string]RuleOverride),
		rules:     builtinRules(),
	}
	if rulesPath != "" {
		if err := engine.loadOverrides(); err != nil {
			logger.Warn().Str("path", rulesPath).Err(err).Msg("rule overrides not loaded; using built-in defaults")
		}
	}
	return engine
}

// Analyze runs the session through every enabled rule and returns all
// findings in registry order.
func (e *SignatureEngine) Analyze(session Session) []SignatureFinding {
	e.logger.Debug().Int("events", len(session)).Int("rules", len(e.rules)).Msg("matching session against signature rules")

	var all []SignatureFinding
	for _, rule := range e.rules {
		enabled, params := e.ruleSettings(rule)
		if !enabled {
			continue
		}
		findings := e.runRule(rule, session, params)
		if len(findings) > 0 {
			e.logger.Info().Str("rule", rule.ID).Int("findings", len(findings)).Msg("signature rule matched")
			if e.metrics != nil {
				e.metrics.IncrementCounter("signature_rule_matches_total", map[string]string{"rule": rule.ID})
			}
		}
		all = append(all, findings...)
	}
	return all
}

func (e *SignatureEngine) ruleSettings(rule ruleDefinition) (bool, ruleParams) {
	params := make(ruleParams, len(rule.DefaultParams))
	for k, v := range rule.DefaultParams {
		params[k] = v
	}
	e.mu.RLock()
	override, ok := e.overrides[rule.ID]
	e.mu.RUnlock()
	if !ok {
		return true, params
	}
	if override.Enabled != nil && !*override.Enabled {
		return false, nil
	}
	for k, v := range override.Thresholds {
		params[k] = v
	}
	return true, params
}

// runRule isolates rule panics so one broken rule cannot poison the batch.
func (e *SignatureEngine) runRule(rule ruleDefinition, session Session, params ruleParams) (findings []SignatureFinding) {
	defer func() {
		if r := recover(); r != nil {
			findings = nil
			e.logger.Error().Str("rule", rule.ID).Str("panic", fmt.Sprint(r)).Msg("signature rule panicked; its findings are discarded")
			if e.metrics != nil {
				e.metrics.IncrementCounter("signature_rule_failures_total", map[string]string{"rule": rule.ID})
			}
		}
	}()
	return rule.Check(session, params)
}

func (e *SignatureEngine) loadOverrides() error {
	info, err := os.Stat(e.rulesPath)
	if err != nil {
		return err
	}
	if info.Size() > maxRuleConfigSize {
		return fmt.Errorf("rule config %s exceeds %d bytes", e.rulesPath, maxRuleConfigSize)
	}
	data, err := os.ReadFile(e.rulesPath)
	if err != nil {
		return err
	}
	var cfg ruleFileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse rule config: %w", err)
	}
	if err := validateRuleOverrides(cfg.Rules, e.rules); err != nil {
		return err
	}
	e.mu.Lock()
	e.overrides = cfg.Rules
	e.mu.Unlock()
	e.logger.Info().Str("path", e.rulesPath).Int("rules", len(cfg.Rules)).Msg("rule overrides loaded")
	return nil
}

// StartWatcher begins watching the rule config file. Threshold changes apply
// to subsequent analyses without a restart; a file that fails to parse keeps
// the previous parameters.
func (e *SignatureEngine) StartWatcher() error {
	if e.rulesPath == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors and config pushers replace the file.
	if err := watcher.Add(filepath.Dir(e.rulesPath)); err != nil {
		watcher.Close()
		return err
	}
	e.watcher = watcher
	e.watchDone = make(chan struct{})
	base := filepath.Base(e.rulesPath)

	go func() {
		defer close(e.watchDone)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := e.loadOverrides(); err != nil {
					e.logger.Error().Str("path", e.rulesPath).Err(err).Msg("rule override reload failed; keeping previous parameters")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.logger.Error().Err(err).Msg("rule config watcher error")
			}
		}
	}()

	e.logger.Info().Str("path", e.rulesPath).Msg("rule config watcher started")
	return nil
}

// StopWatcher stops the config watcher if one is running.
func (e *SignatureEngine) StopWatcher() error {
	if e.watcher == nil {
		return nil
	}
	err := e.watcher.Close()
	<-e.watchDone
	e.watcher = nil
	return err
}

// Rules lists the registered rule ids in execution order.
func (e *SignatureEngine) Rules() []string {
	ids := make([]string, len(e.rules))
	for i, rule := range e.rules {
		ids[i] = rule.ID
	}
	return ids
}
