package otelz

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// maxTraceStateMembers bounds the number of list members.
	maxTraceStateMembers = 32
	// maxTraceStateLength bounds the encoded header length.
	maxTraceStateLength = 512
)

var (
	traceStateKeyRe   = regexp.MustCompile(`^(?:[a-z][_0-9a-z\-*/]{0,255}|[a-z0-9][_0-9a-z\-*/]{0,240}@[a-z][_0-9a-z\-*/]{0,13})$`)
	traceStateValueRe = regexp.MustCompile(`^[ -~]{0,255}[!-~]$`)
)

type traceStateMember struct {
	key   string
	value string
}

// TraceState is the immutable W3C tracestate list. The first member is the
// most recently updated one. The zero value is empty.
type TraceState struct {
	members []traceStateMember
}

// ParseTraceState parses a tracestate header value. Any invalid member, too
// many members, or an oversized header discards the whole value.
func ParseTraceState(raw string) (TraceState, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return TraceState{}, nil
	}
	if len(raw) > maxTraceStateLength {
		return TraceState{}, fmt.Errorf("tracestate exceeds %d characters", maxTraceStateLength)
	}
	parts := strings.Split(raw, ",")
	if len(parts) > maxTraceStateMembers {
		return TraceState{}, fmt.Errorf("tracestate has more than %d members", maxTraceStateMembers)
	}

	members := make([]traceStateMember, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.Split(part, "=")
		if len(kv) != 2 || !validTraceStateKey(kv[0]) || !validTraceStateValue(kv[1]) {
			return TraceState{}, fmt.Errorf("invalid tracestate member %q", part)
		}
		if _, dup := seen[kv[0]]; dup {
			return TraceState{}, fmt.Errorf("duplicate tracestate key %q", kv[0])
		}
		seen[kv[0]] = struct{}{}
		members = append(members, traceStateMember{key: kv[0], value: kv[1]})
	}
	return TraceState{members: members}, nil
}

func validTraceStateKey(k string) bool { return traceStateKeyRe.MatchString(k) }

func validTraceStateValue(v string) bool {
	return traceStateValueRe.MatchString(v) && !strings.ContainsAny(v, ",=")
}

// Get returns the value stored for key.
func (ts TraceState) Get(key string) (string, bool) {
	for _, m := range ts.members {
		if m.key == key {
			return m.value, true
		}
	}
	return "", false
}

// Len returns the number of members.
func (ts TraceState) Len() int { return len(ts.members) }

// Insert returns a new TraceState with key moved or added to the front.
func (ts TraceState) Insert(key, value string) (TraceState, error) {
	if !validTraceStateKey(key) {
		return ts, fmt.Errorf("invalid tracestate key %q", key)
	}
	if !validTraceStateValue(value) {
		return ts, fmt.Errorf("invalid tracestate value for key %q", key)
	}
	members := make([]traceStateMember, 0, len(ts.members)+1)
	members = append(members, traceStateMember{key: key, value: value})
	for _, m := range ts.members {
		if m.key != key {
			members = append(members, m)
		}
	}
	if len(members) > maxTraceStateMembers {
		return ts, fmt.Errorf("tracestate would exceed %d members", maxTraceStateMembers)
	}
	next := TraceState{members: members}
	if len(next.String()) > maxTraceStateLength {
		return ts, fmt.Errorf("tracestate would exceed %d characters", maxTraceStateLength)
	}
	return next, nil
}

// Delete returns a new TraceState without key.
func (ts TraceState) Delete(key string) TraceState {
	members := make([]traceStateMember, 0, len(ts.members))
	for _, m := range ts.members {
		if m.key != key {
			members = append(members, m)
		}
	}
	return TraceState{members: members}
}

// String encodes the list as a tracestate header value.
func (ts TraceState) String() string {
	if len(ts.members) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, m := range ts.members {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(m.key)
		sb.WriteByte('=')
		sb.WriteString(m.value)
	}
	return sb.String()
}
