// Package candidate classifies connectivity candidates by origin and decides
// whether they may be forwarded to the remote peer.
package candidate

import (
	"fmt"
	"strings"
)

// Origin is where a candidate's transport address came from.
type Origin int

const (
	OriginUnknown Origin = iota
	OriginHost
	OriginServerReflexive
	OriginRelay
)

func (o Origin) String() string {
	switch o {
	case OriginHost:
		return "host"
	case OriginServerReflexive:
		return "srflx"
	case OriginRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// Markers are checked in this order; the first match wins.
var markers = []struct {
	origin Origin
	marker string
}{
	{OriginHost, "typ host"},
	{OriginServerReflexive, "srflx"},
	{OriginRelay, "relay"},
}

// Record is a single connectivity candidate as discovered by a media engine.
// It is a value type and never mutated after construction.
type Record struct {
	candidate  string
	mid        string
	mLineIndex int
}

// NewRecord builds a candidate record. An empty payload denotes the terminal
// end-of-candidates record.
func NewRecord(payload, mid string, mLineIndex int) Record {
	return Record{candidate: payload, mid: mid, mLineIndex: mLineIndex}
}

// EndOfCandidates returns the terminal record.
func EndOfCandidates() Record {
	return Record{}
}

func (r Record) Candidate() string { return r.candidate }
func (r Record) Mid() string       { return r.mid }
func (r Record) MLineIndex() int   { return r.mLineIndex }

// Terminal reports whether r signals that no more candidates will follow.
func (r Record) Terminal() bool {
	return r.candidate == ""
}

// Classify returns the origin of r based on the markers in its payload.
func Classify(r Record) Origin {
	for _, m := range markers {
		if strings.Contains(r.candidate, m.marker) {
			return m.origin
		}
	}
	return OriginUnknown
}

// Policy is the set of enabled origins. The zero value rejects every
// classified candidate.
type Policy struct {
	Host            bool
	ServerReflexive bool
	Relay           bool
}

// AllowAll enables every origin.
func AllowAll() Policy {
	return Policy{Host: true, ServerReflexive: true, Relay: true}
}

// Enabled reports whether o is allowed under p. Unknown origins have no
// toggle and are always enabled.
func (p Policy) Enabled(o Origin) bool {
	switch o {
	case OriginHost:
		return p.Host
	case OriginServerReflexive:
		return p.ServerReflexive
	case OriginRelay:
		return p.Relay
	default:
		return true
	}
}

func (p Policy) String() string {
	var parts []string
	for _, o := range []Origin{OriginHost, OriginServerReflexive, OriginRelay} {
		if p.Enabled(o) {
			parts = append(parts, o.String())
		}
	}
	return strings.Join(parts, ",")
}

// ParsePolicy parses a comma-separated origin list such as "host,srflx".
// "all" enables everything and an empty string enables nothing.
func ParsePolicy(s string) (Policy, error) {
	var p Policy
	for _, raw := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "":
		case "all":
			p = AllowAll()
		case "host":
			p.Host = true
		case "srflx", "reflexive", "server-reflexive":
			p.ServerReflexive = true
		case "relay":
			p.Relay = true
		default:
			return Policy{}, fmt.Errorf("unknown candidate type %q", name)
		}
	}
	return p, nil
}

// Admit reports whether r may be forwarded under p. Terminal records always
// pass so the peer learns that gathering finished.
func Admit(r Record, p Policy) bool {
	if r.Terminal() {
		return true
	}
	return p.Enabled(Classify(r))
}
