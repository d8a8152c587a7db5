package zerohack

import (
	"context"
	"time"

	"github.com/oarkflow/log"
)

// DispatchRefs carries the references returned by the collaborators that
// succeeded for one incident.
type DispatchRefs struct {
	ArchivalRef string
	LedgerRef   string
}

// Dispatcher fans a confirmed incident out to the evidence archive, the
// ledger, the incident store, and live alert subscribers. Legs run in order
// because later ones embed earlier references, and every leg is best effort:
// a failing collaborator is logged and skipped, never fatal.
type Dispatcher struct {
	archiver    EvidenceArchiver
	ledger      LedgerClient
	store       IncidentRecorder
	alerts      AlertSink
	throttle    RateLimiter
	callTimeout time.Duration
	maxRetries  int
	metrics     MetricsCollector
	logger      *log.Logger
}

type DispatcherOptions struct {
	Archiver    EvidenceArchiver
	Ledger      LedgerClient
	Store       IncidentRecorder
	Alerts      AlertSink
	Throttle    RateLimiter
	CallTimeout time.Duration
	MaxRetries  int
	Metrics     MetricsCollector
	Logger      *log.Logger
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Dispatcher{
		archiver:    opts.Archiver,
		ledger:      opts.Ledger,
		store:       opts.Store,
		alerts:      opts.Alerts,
		throttle:    opts.Throttle,
		callTimeout: opts.CallTimeout,
		maxRetries:  opts.MaxRetries,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
}

// Dispatch runs the collaborator chain for one incident. The ledger leg sees
// the archival reference when archiving succeeded, the stored record carries
// whichever references exist by then, and references are only reported for
// legs that succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, incident *Incident) DispatchRefs {
	var refs DispatchRefs

	if d.archiver != nil {
		ref, err := retryCall(ctx, d.callTimeout, d.maxRetries+1, d.logger, d.archiver.Name(),
			func(callCtx context.Context) (string, error) {
				return d.archiver.Archive(callCtx, incident)
			})
		if err != nil {
			d.failed(d.archiver.Name(), err)
		} else {
			refs.ArchivalRef = ref
			incident.ArchivalRef = ref
			d.logger.Info().Str("incident_id", incident.ID).Str("archival_ref", ref).Msg("incident evidence archived")
		}
	}

	if d.ledger != nil {
		if d.allowLedger(incident.SourceIP) {
			receipt, err := retryCall(ctx, d.callTimeout, d.maxRetries+1, d.logger, d.ledger.Name(),
				func(callCtx context.Context) (*LedgerReceipt, error) {
					return d.ledger.Submit(callCtx, incident)
				})
			if err != nil {
				d.failed(d.ledger.Name(), err)
			} else {
				refs.LedgerRef = receipt.TxHash
				incident.LedgerRef = receipt.TxHash
				d.logger.Info().Str("incident_id", incident.ID).Str("ledger_ref", receipt.TxHash).Msg("incident anchored on ledger")
				if receipt.Quarantined && d.alerts != nil {
					d.alerts.Broadcast("IPQuarantined", map[string]any{
						"address":     incident.SourceIP,
						"incident_id": incident.ID,
					})
				}
			}
		} else {
			d.logger.Warn().Str("incident_id", incident.ID).Str("source_ip", incident.SourceIP).Msg("ledger submission throttled")
			if d.metrics != nil {
				d.metrics.IncrementCounter("ledger_submissions_throttled_total", nil)
			}
		}
	}

	if d.store != nil {
		storeCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
		err := d.store.AddIncident(storeCtx, incident)
		cancel()
		if err != nil {
			d.failed("incident_store", err)
		} else {
			d.logger.Info().Str("incident_id", incident.ID).Msg("incident recorded in local store")
		}
	}

	if d.alerts != nil {
		d.alerts.Broadcast("ThreatDetected", incident)
	}

	return refs
}

func (d *Dispatcher) allowLedger(sourceIP string) bool {
	if d.throttle == nil {
		return true
	}
	if sourceIP == "" {
		sourceIP = "unknown"
	}
	allowed, _, _, err := d.throttle.Allow("ledger:" + sourceIP)
	if err != nil {
		return true
	}
	return allowed
}

func (d *Dispatcher) failed(name string, err error) {
	d.logger.Error().Str("collaborator", name).Err(&CollaboratorError{Collaborator: name, Err: err}).Msg("collaborator dispatch failed")
	if d.metrics != nil {
		d.metrics.IncrementCounter("collaborator_failures_total", map[string]string{"collaborator": name})
	}
}

// retryCall runs one collaborator call with a per-attempt timeout.
func retryCall[T any](ctx context.Context, timeout time.Duration, attempts int, logger *log.Logger, name string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := call(callCtx)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt < attempts {
			logger.Warn().Str("collaborator", name).Int("attempt", attempt).Err(err).Msg("collaborator call failed; retrying")
		}
	}
	return zero, lastErr
}
