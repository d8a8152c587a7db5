package zerohack

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oarkflow/log"
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/sha3"
)

// ChainLedgerClient submits incident digests to the ledger gateway. The
// Keccak-256 digest is computed locally so the gateway cannot alter what
// gets anchored.
type ChainLedgerClient struct {
	client  *fasthttp.Client
	baseURL string
	timeout time.Duration
	logger  *log.Logger
}

func NewChainLedgerClient(baseURL string, timeout time.Duration, logger *log.Logger) *ChainLedgerClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ChainLedgerClient{
		client:  &fasthttp.Client{MaxConnsPerHost: 4},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

func (c *ChainLedgerClient) Name() string { return "chain_ledger" }

// ledgerSubmission is the gateway wire payload.
type ledgerSubmission struct {
	SourceIP    string `json:"source_ip"`
	Timestamp   string `json:"timestamp"`
	AttackType  string `json:"attack_type"`
	Explanation string `json:"explanation"`
	ArchivalRef string `json:"archival_ref,omitempty"`
	Digest      string `json:"digest"`
}

// Submit anchors one incident and returns the gateway receipt.
func (c *ChainLedgerClient) Submit(ctx context.Context, incident *Incident) (*LedgerReceipt, error) {
	submission := ledgerSubmission{
		SourceIP:    incident.SourceIP,
		Timestamp:   incident.EventTimestamp.UTC().Format(time.RFC3339),
		AttackType:  incident.AttackType,
		Explanation: ledgerExplanation(incident.Confidence, incident.Explanation),
		ArchivalRef: incident.ArchivalRef,
		Digest:      incidentDigest(incident),
	}
	payload, err := json.Marshal(submission)
	if err != nil {
		return nil, fmt.Errorf("encode submission: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + "/api/v1/incidents")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	if err := c.client.DoTimeout(req, resp, boundedTimeout(ctx, c.timeout)); err != nil {
		return nil, fmt.Errorf("ledger request: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK && resp.StatusCode() != fasthttp.StatusCreated {
		return nil, fmt.Errorf("ledger returned status %d", resp.StatusCode())
	}

	var receipt LedgerReceipt
	if err := json.Unmarshal(resp.Body(), &receipt); err != nil {
		return nil, fmt.Errorf("decode ledger response: %w", err)
	}
	if receipt.TxHash == "" {
		return nil, fmt.Errorf("ledger response missing tx_hash")
	}
	c.logger.Debug().Str("incident_id", incident.ID).Str("tx_hash", receipt.TxHash).Bool("quarantined", receipt.Quarantined).Msg("ledger receipt received")
	return &receipt, nil
}

// The gateway rejects oversized explanation strings; keep the confidence
// prefix and truncate the summary.
const maxLedgerExplanation = 250

func ledgerExplanation(confidence float64, summary string) string {
	if len(summary) > maxLedgerExplanation {
		summary = summary[:maxLedgerExplanation]
	}
	return fmt.Sprintf("Conf: %.2f; %s", confidence, summary)
}

// incidentDigest is the Keccak-256 digest over the canonical incident
// fields.
func incidentDigest(incident *Incident) string {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "%s|%s|%s|%s|%.2f",
		incident.ID,
		incident.SourceIP,
		incident.AttackType,
		incident.EventTimestamp.UTC().Format(time.RFC3339),
		incident.Confidence)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
