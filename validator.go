package zerohack

import "fmt"

// Validate rejects configurations the engine cannot run with. Weights and
// thresholds outside [0,1] indicate a broken config push rather than a
// deliberate policy.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	if c.ModelDir == "" {
		return fmt.Errorf("model_dir must not be empty")
	}
	if c.IsolationForest.Model == "" || c.IsolationForest.Scaler == "" {
		return fmt.Errorf("isolation_forest requires model and scaler file names")
	}
	if c.Behavioral.Model == "" || c.Behavioral.Scaler == "" {
		return fmt.Errorf("behavioral requires model and scaler file names")
	}
	switch c.Behavioral.ModelType {
	case "", "Autoencoder":
	case "LSTM":
		if c.Behavioral.Timesteps < 0 {
			return fmt.Errorf("behavioral timesteps must not be negative")
		}
	default:
		return fmt.Errorf("behavioral model_type %q is not supported", c.Behavioral.ModelType)
	}
	if c.DispatchRetries < 0 {
		return fmt.Errorf("dispatch_retries must not be negative")
	}
	return validateAggregator(c.Aggregator)
}

func validateAggregator(cfg AggregatorConfig) error {
	if err := unitRange("signature_weight", cfg.SignatureWeight); err != nil {
		return err
	}
	if err := unitRange("strong_signature_floor", cfg.StrongSignatureFloor); err != nil {
		return err
	}
	if err := unitRange("threat_threshold", cfg.ThreatThreshold); err != nil {
		return err
	}
	if err := unitRange("base_likelihood", cfg.BaseLikelihood); err != nil {
		return err
	}
	if err := unitRange("strict_likelihood", cfg.StrictLikelihood); err != nil {
		return err
	}
	if err := unitRange("multi_signal_floor", cfg.MultiSignalFloor); err != nil {
		return err
	}
	if cfg.MultiSignalCount < 0 {
		return fmt.Errorf("aggregator multi_signal_count must not be negative")
	}
	if len(cfg.Channels) == 0 {
		return fmt.Errorf("aggregator requires at least one anomaly channel")
	}
	seen := make(map[string]struct{}, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		if ch.Name == "" {
			return fmt.Errorf("aggregator channel without a name")
		}
		if _, dup := seen[ch.Name]; dup {
			return fmt.Errorf("aggregator channel %q declared twice", ch.Name)
		}
		seen[ch.Name] = struct{}{}
		if err := unitRange(fmt.Sprintf("channel %s weight", ch.Name), ch.Weight); err != nil {
			return err
		}
	}
	return nil
}

func unitRange(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("aggregator %s must be within [0,1], got %g", name, v)
	}
	return nil
}

// validateRuleOverrides checks override entries against the registered
// rules. Unknown rule ids are rejected whole so a typo cannot silently
// disable tuning.
func validateRuleOverrides(overrides map[string]RuleOverride, rules []ruleDefinition) error {
	known := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		known[rule.ID] = struct{}{}
	}
	for id, override := range overrides {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("rule override %q does not match a registered rule", id)
		}
		for key, value := range override.Thresholds {
			if value < 0 {
				return fmt.Errorf("rule %s threshold %q must not be negative", id, key)
			}
		}
	}
	return nil
}
