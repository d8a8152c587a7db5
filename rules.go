package zerohack

import (
	"fmt"
	"sort"
	"time"
)

func builtinRules() []ruleDefinition {
	return []ruleDefinition{
		{
			ID:            "SSH_BRUTE_FORCE",
			Description:   "Repeated connection attempts from one source to the SSH port.",
			DefaultParams: ruleParams{"port": 22, "attempts": 5, "window_seconds": 60},
			Check:         checkSSHBruteForce,
		},
		{
			ID:            "PORT_SCAN",
			Description:   "One source probing many distinct ports on one destination.",
			DefaultParams: ruleParams{"unique_ports": 10, "window_seconds": 60},
			Check:         checkPortScan,
		},
		{
			ID:            "DDOS_FLOOD",
			Description:   "Connection flood against one destination endpoint.",
			DefaultParams: ruleParams{"connections": 100, "window_seconds": 10},
			Check:         checkDDoSFlood,
		},
	}
}

// checkSSHBruteForce flags bursts of connection attempts from one source to
// the SSH port. Events without a parseable timestamp do not participate, and
// each source emits at most one finding for its first qualifying burst.
func checkSSHBruteForce(session Session, params ruleParams) []SignatureFinding {
	port := int(params.value("port", 22))
	threshold := int(params.value("attempts", 5))
	window := secondsWindow(params.value("window_seconds", 60))

	type key struct {
		sourceIP string
		port     int
	}
	attempts := make(map[key][]time.Time)
	var order []key
	for _, ev := range session {
		if !ev.TimeValid || ev.SourceIP == "" || ev.DestPort != port {
			continue
		}
		k := key{ev.SourceIP, ev.DestPort}
		if _, seen := attempts[k]; !seen {
			order = append(order, k)
		}
		attempts[k] = append(attempts[k], ev.Timestamp)
	}

	var findings []SignatureFinding
	for _, k := range order {
		timestamps := attempts[k]
		if len(timestamps) < threshold {
			continue
		}
		sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

		for i := 0; i+threshold <= len(timestamps); i++ {
			end := timestamps[i].Add(window)
			j := i
			for j < len(timestamps) && !timestamps[j].After(end) {
				j++
			}
			count := j - i
			if count < threshold {
				continue
			}
			first, last := timestamps[i], timestamps[j-1]
			burst := make([]string, 0, count)
			for _, ts := range timestamps[i:j] {
				burst = append(burst, ts.Format(time.RFC3339))
			}
			findings = append(findings, SignatureFinding{
				RuleID:     "SSH_BRUTE_FORCE",
				IsMatch:    true,
				Confidence: 1.0,
				Explanation: fmt.Sprintf(
					"Potential SSH brute-force from %s to port %d. %d attempts observed between %s and %s (Window: %.2fs).",
					k.sourceIP, k.port, count, first.Format(time.RFC3339), last.Format(time.RFC3339), last.Sub(first).Seconds()),
				Details: map[string]any{
					"source_ip":                  k.sourceIP,
					"dest_port":                  k.port,
					"attempt_timestamps":         burst,
					"observed_attempts_in_burst": count,
					"configured_threshold":       threshold,
					"configured_window_seconds":  window.Seconds(),
				},
			})
			break
		}
	}
	return findings
}

// checkPortScan flags a source touching many distinct ports on one
// destination within the window. Events missing an endpoint field or a
// parseable timestamp are skipped.
func checkPortScan(session Session, params ruleParams) []SignatureFinding {
	threshold := int(params.value("unique_ports", 10))
	window := secondsWindow(params.value("window_seconds", 60))

	type key struct{ sourceIP, destIP string }
	type probe struct {
		port int
		ts   time.Time
	}
	grouped := make(map[key][]probe)
	var order []key
	for _, ev := range session {
		if !ev.TimeValid || ev.SourceIP == "" || ev.DestIP == "" || ev.DestPort == 0 {
			continue
		}
		k := key{ev.SourceIP, ev.DestIP}
		if _, seen := grouped[k]; !seen {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], probe{port: ev.DestPort, ts: ev.Timestamp})
	}

	var findings []SignatureFinding
	for _, k := range order {
		probes := grouped[k]
		if len(probes) < threshold {
			continue
		}
		sort.Slice(probes, func(i, j int) bool { return probes[i].ts.Before(probes[j].ts) })

		for i := range probes {
			end := probes[i].ts.Add(window)
			ports := make(map[int]struct{})
			j := i
			for j < len(probes) && !probes[j].ts.After(end) {
				ports[probes[j].port] = struct{}{}
				j++
			}
			if len(ports) < threshold {
				continue
			}
			targeted := make([]int, 0, len(ports))
			for p := range ports {
				targeted = append(targeted, p)
			}
			sort.Ints(targeted)
			first, last := probes[i].ts, probes[j-1].ts
			findings = append(findings, SignatureFinding{
				RuleID:     "PORT_SCAN",
				IsMatch:    true,
				Confidence: 1.0,
				Explanation: fmt.Sprintf(
					"Potential port scan from %s to %s. %d unique ports targeted between %s and %s (Window: %.2fs).",
					k.sourceIP, k.destIP, len(ports), first.Format(time.RFC3339), last.Format(time.RFC3339), last.Sub(first).Seconds()),
				Details: map[string]any{
					"source_ip":                 k.sourceIP,
					"destination_ip":            k.destIP,
					"targeted_ports":            targeted,
					"event_count_in_window":     j - i,
					"unique_ports_in_window":    len(ports),
					"configured_threshold":      threshold,
					"configured_window_seconds": window.Seconds(),
				},
			})
			break
		}
	}
	return findings
}

// checkDDoSFlood flags a connection burst against one destination endpoint,
// regardless of how many sources contribute.
func checkDDoSFlood(session Session, params ruleParams) []SignatureFinding {
	threshold := int(params.value("connections", 100))
	window := secondsWindow(params.value("window_seconds", 10))

	type key struct {
		destIP   string
		destPort int
	}
	type flow struct {
		ts       time.Time
		sourceIP string
	}
	grouped := make(map[key][]flow)
	var order []key
	for _, ev := range session {
		if !ev.TimeValid || ev.SourceIP == "" || ev.DestIP == "" || ev.DestPort == 0 {
			continue
		}
		k := key{ev.DestIP, ev.DestPort}
		if _, seen := grouped[k]; !seen {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], flow{ts: ev.Timestamp, sourceIP: ev.SourceIP})
	}

	var findings []SignatureFinding
	for _, k := range order {
		flows := grouped[k]
		if len(flows) < threshold {
			continue
		}
		sort.Slice(flows, func(i, j int) bool { return flows[i].ts.Before(flows[j].ts) })

		for i := range flows {
			end := flows[i].ts.Add(window)
			sources := make(map[string]struct{})
			j := i
			for j < len(flows) && !flows[j].ts.After(end) {
				sources[flows[j].sourceIP] = struct{}{}
				j++
			}
			count := j - i
			if count < threshold {
				continue
			}
			first, last := flows[i].ts, flows[j-1].ts
			findings = append(findings, SignatureFinding{
				// Downstream consumers key on this emitted id, not the
				// registry id DDOS_FLOOD.
				RuleID:     "DDOS_FLOOD_DETECTED",
				IsMatch:    true,
				Confidence: 1.0,
				Explanation: fmt.Sprintf(
					"Potential DDoS/Flood attack targeting %s:%d. %d connections/packets from %d unique sources observed between %s and %s (Window: %.2fs).",
					k.destIP, k.destPort, count, len(sources), first.Format(time.RFC3339), last.Format(time.RFC3339), last.Sub(first).Seconds()),
				Details: map[string]any{
					"destination_ip":              k.destIP,
					"destination_port":            k.destPort,
					"event_count_in_window":       count,
					"unique_source_ips_in_window": len(sources),
					"configured_threshold":        threshold,
					"configured_window_seconds":   window.Seconds(),
					"first_event_time":            first.Format(time.RFC3339),
					"last_event_time":             last.Format(time.RFC3339),
				},
			})
			break
		}
	}
	return findings
}

func secondsWindow(seconds float64) time.Duration {
	if seconds <= 0 {
		return time.Second
	}
	return time.Duration(seconds * float64(time.Second))
}
