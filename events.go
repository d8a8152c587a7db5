package zerohack

import (
	"strconv"
	"time"
)

// Event is a single network observation inside an analysis batch. Numeric
// fields outside the fixed schema land in Features and feed the anomaly
// detectors.
type Event struct {
	Timestamp time.Time          `json:"timestamp"`
	TimeValid bool               `json:"-"`
	SourceIP  string             `json:"source_ip"`
	DestIP    string             `json:"dest_ip"`
	DestPort  int                `json:"dest_port"`
	Protocol  string             `json:"protocol,omitempty"`
	Flags     string             `json:"flags,omitempty"`
	Features  map[string]float64 `json:"features,omitempty"`
}

// Session is the ordered batch of events submitted in one analysis call.
type Session []Event

var eventTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// ParseSession converts decoded JSON objects into an ordered Session. Events
// must carry source_ip, dest_ip, and dest_port; an unparseable timestamp is
// kept but flagged invalid so windowed rules can skip it.
func ParseSession(raw []map[string]any) (Session, error) {
	if len(raw) == 0 {
		return nil, &InputError{Reason: "No events provided in the request."}
	}
	session := make(Session, 0, len(raw))
	for i, item := range raw {
		ev := parseEvent(item)
		if ev.SourceIP == "" {
			return nil, inputErrorf("event %d is missing source_ip", i)
		}
		if ev.DestIP == "" {
			return nil, inputErrorf("event %d is missing dest_ip", i)
		}
		if !hasAnyKey(item, "dest_port", "Dst Port", "Destination Port") {
			return nil, inputErrorf("event %d is missing dest_port", i)
		}
		session = append(session, ev)
	}
	return session, nil
}

func parseEvent(raw map[string]any) Event {
	ev := Event{Features: make(map[string]float64)}
	for key, val := range raw {
		switch key {
		case "timestamp", "Timestamp":
			ev.Timestamp, ev.TimeValid = parseEventTime(val)
		case "source_ip", "Src IP", "Source IP":
			ev.SourceIP = asString(val)
		case "dest_ip", "Dst IP", "Destination IP":
			ev.DestIP = asString(val)
		case "dest_port", "Dst Port", "Destination Port":
			if port, ok := asPort(val); ok {
				ev.DestPort = port
			}
		case "protocol":
			ev.Protocol = asString(val)
		case "flags":
			ev.Flags = asString(val)
		default:
			if num, ok := val.(float64); ok {
				ev.Features[key] = num
			}
		}
	}
	return ev
}

func parseEventTime(val any) (time.Time, bool) {
	switch t := val.(type) {
	case string:
		for _, layout := range eventTimeLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
	case float64:
		// Unix seconds, possibly fractional.
		if t > 0 {
			sec := int64(t)
			nsec := int64((t - float64(sec)) * float64(time.Second))
			return time.Unix(sec, nsec).UTC(), true
		}
	}
	return time.Time{}, false
}

func asString(val any) string {
	s, _ := val.(string)
	return s
}

func asPort(val any) (int, bool) {
	switch v := val.(type) {
	case float64:
		return int(v), true
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

func hasAnyKey(raw map[string]any, keys ...string) bool {
	for _, key := range keys {
		if _, ok := raw[key]; ok {
			return true
		}
	}
	return false
}
