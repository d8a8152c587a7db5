package zerohack

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oarkflow/log"
	"github.com/valyala/fasthttp"
)

// HTTPEvidenceArchiver ships full incident reports to the content-addressed
// evidence archive and returns the CID the archive assigns.
type HTTPEvidenceArchiver struct {
	client  *fasthttp.Client
	baseURL string
	timeout time.Duration
	logger  *log.Logger
}

func NewHTTPEvidenceArchiver(baseURL string, timeout time.Duration, logger *log.Logger) *HTTPEvidenceArchiver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPEvidenceArchiver{
		client:  &fasthttp.Client{MaxConnsPerHost: 16},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

func (a *HTTPEvidenceArchiver) Name() string { return "evidence_archive" }

// Archive uploads the serialized incident and returns the archive reference.
func (a *HTTPEvidenceArchiver) Archive(ctx context.Context, incident *Incident) (string, error) {
	payload, err := json.Marshal(incident)
	if err != nil {
		return "", fmt.Errorf("encode incident: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(a.baseURL + "/api/v0/add")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	if err := a.client.DoTimeout(req, resp, boundedTimeout(ctx, a.timeout)); err != nil {
		return "", fmt.Errorf("archive request: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return "", fmt.Errorf("archive returned status %d", resp.StatusCode())
	}

	var out struct {
		CID string `json:"cid"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode archive response: %w", err)
	}
	if out.CID == "" {
		return "", fmt.Errorf("archive response missing cid")
	}
	a.logger.Debug().Str("incident_id", incident.ID).Str("cid", out.CID).Int("bytes", len(payload)).Msg("incident archived")
	return out.CID, nil
}

// boundedTimeout shrinks the call timeout to fit a context deadline.
func boundedTimeout(ctx context.Context, timeout time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	return timeout
}
