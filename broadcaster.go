package zerohack

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/oarkflow/log"
)

// AlertEnvelope is the wire shape pushed to dashboard subscribers.
type AlertEnvelope struct {
	EventType string `json:"event_type"`
	Data      any    `json:"data"`
}

// AlertHub fans alert envelopes out to subscribed clients. Repeated alerts
// for the same source and attack are suppressed while the suppression TTL
// lasts.
type AlertHub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	recent  *expirable.LRU[string, time.Time]
	logger  *log.Logger
	metrics MetricsCollector
}

func NewAlertHub(suppression time.Duration, logger *log.Logger, metrics MetricsCollector) *AlertHub {
	if suppression <= 0 {
		suppression = 30 * time.Second
	}
	return &AlertHub{
		clients: make(map[chan []byte]struct{}),
		recent:  expirable.NewLRU[string, time.Time](1024, nil, suppression),
		logger:  logger,
		metrics: metrics,
	}
}

// Subscribe registers a client and returns its outbound queue. Slow clients
// drop messages rather than stall the hub.
func (h *AlertHub) Subscribe() chan []byte {
	ch := make(chan []byte, 16)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().Int("clients", count).Msg("alert subscriber connected")
	if h.metrics != nil {
		h.metrics.SetGauge("alert_subscribers", float64(count), nil)
	}
	return ch
}

// Unsubscribe removes a client and closes its queue.
func (h *AlertHub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().Int("clients", count).Msg("alert subscriber disconnected")
	if h.metrics != nil {
		h.metrics.SetGauge("alert_subscribers", float64(count), nil)
	}
}

// ClientCount reports the number of live subscribers.
func (h *AlertHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast pushes one envelope to every subscriber. Safe to call from any
// goroutine; a full client queue drops the message for that client only.
func (h *AlertHub) Broadcast(eventType string, data any) {
	if key := suppressionKey(eventType, data); key != "" {
		if _, seen := h.recent.Get(key); seen {
			if h.metrics != nil {
				h.metrics.IncrementCounter("alerts_suppressed_total", map[string]string{"event_type": eventType})
			}
			return
		}
		h.recent.Add(key, time.Now())
	}

	payload, err := json.Marshal(AlertEnvelope{EventType: eventType, Data: data})
	if err != nil {
		h.logger.Error().Str("event_type", eventType).Err(err).Msg("alert payload failed to encode")
		return
	}
	if h.metrics != nil {
		h.metrics.IncrementCounter("alerts_broadcast_total", map[string]string{"event_type": eventType})
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// suppressionKey derives the dedup key for incident-shaped payloads. Other
// payloads broadcast unconditionally.
func suppressionKey(eventType string, data any) string {
	switch v := data.(type) {
	case *Incident:
		return fmt.Sprintf("%s|%s|%s", eventType, v.SourceIP, v.AttackType)
	case map[string]any:
		if addr, ok := v["address"].(string); ok {
			return eventType + "|" + addr
		}
	}
	return ""
}
