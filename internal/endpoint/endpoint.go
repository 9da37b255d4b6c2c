// Package endpoint parses OpenSong resource URLs into a comparable triple
// and implements the wildcard matching semantics shared by the ACL, the
// response cache, and upstream reply correlation.
package endpoint

import "strings"

// Endpoint is a parsed resource URL: up to four slash-delimited segments
// (resource, action, identifier, sub-command), each optional. Endpoint
// values are immutable after construction and compare by their four
// fields (URL is a derived, canonical rendering).
type Endpoint struct {
	url        string
	resource   string
	action     string
	identifier string
	subCommand string
}

// New parses a URL of the form "/resource[/action[/identifier[/sub]]]"
// into an Endpoint. A malformed URL simply yields absent (empty) trailing
// fields; there is no error case.
func New(url string) Endpoint {
	trimmed := strings.TrimPrefix(url, "/")
	parts := strings.Split(trimmed, "/")

	var resource, action, identifier, sub string
	if len(parts) > 0 {
		resource = parts[0]
	}
	if len(parts) > 1 {
		action = parts[1]
	}
	if len(parts) > 2 {
		identifier = parts[2]
	}
	if len(parts) > 3 {
		sub = parts[3]
	}

	return FromParts(resource, action, identifier, sub)
}

// FromParts constructs an Endpoint from its four parts, omitting the
// leading slash of absent trailing segments so the canonical URL matches
// what New would parse back.
func FromParts(resource, action, identifier, subCommand string) Endpoint {
	e := Endpoint{
		resource:   resource,
		action:     action,
		identifier: identifier,
		subCommand: subCommand,
	}
	e.url = e.buildURL()
	return e
}

func (e Endpoint) buildURL() string {
	segs := []string{e.resource}
	if e.action == "" && e.identifier == "" && e.subCommand == "" {
		return "/" + strings.Join(segs, "/")
	}
	segs = append(segs, e.action)
	if e.identifier == "" && e.subCommand == "" {
		return "/" + strings.Join(segs, "/")
	}
	segs = append(segs, e.identifier)
	if e.subCommand == "" {
		return "/" + strings.Join(segs, "/")
	}
	segs = append(segs, e.subCommand)
	return "/" + strings.Join(segs, "/")
}

// URL returns the canonical string form of the endpoint.
func (e Endpoint) URL() string { return e.url }

// Resource returns the resource segment.
func (e Endpoint) Resource() string { return e.resource }

// Action returns the action segment.
func (e Endpoint) Action() string { return e.action }

// Identifier returns the identifier segment.
func (e Endpoint) Identifier() string { return e.identifier }

// SubCommand returns the sub-command segment.
func (e Endpoint) SubCommand() string { return e.subCommand }

// Equal reports whether two endpoints carry the same four-tuple.
func (e Endpoint) Equal(other Endpoint) bool {
	return e.resource == other.resource &&
		e.action == other.action &&
		e.identifier == other.identifier &&
		e.subCommand == other.subCommand
}

// ExpectBinary reports whether replies for this endpoint are a raw
// binary image payload rather than XML text: true iff
// (resource, action, subCommand) = ("presentation", "slide", "preview"|"image").
func (e Endpoint) ExpectBinary() bool {
	if e.resource != "presentation" || e.action != "slide" {
		return false
	}
	return e.subCommand == "preview" || e.subCommand == "image"
}

// fieldMatches compares a single pattern field against the same field on
// a probe. An absent pattern field ("") matches anything, including an
// absent probe field. An explicit "*" pattern field matches any
// non-empty probe field but not an absent one — a probe must actually
// supply a segment for "*" to stand in for it. Anything else requires
// an exact match.
func fieldMatches(patternField, probeField string) bool {
	switch patternField {
	case "":
		return true
	case "*":
		return probeField != ""
	default:
		return patternField == probeField
	}
}

// Matches reports whether the receiver, used as a stored pattern,
// matches probe as an incoming request/reply. Resource is never
// wildcarded; action and identifier on the pattern side may be "" or
// "*" to match anything (subject to fieldMatches' empty-probe rule).
func (pattern Endpoint) Matches(probe Endpoint) bool {
	if pattern.resource != probe.resource {
		return false
	}
	if !fieldMatches(pattern.action, probe.action) {
		return false
	}
	if !fieldMatches(pattern.identifier, probe.identifier) {
		return false
	}
	return true
}

// MatchesTriple is a convenience for matching against a bare
// (resource, action, identifier) triple, as used for upstream reply
// correlation where no sub-command is known.
func (pattern Endpoint) MatchesTriple(resource, action, identifier string) bool {
	return pattern.Matches(FromParts(resource, action, identifier, ""))
}
