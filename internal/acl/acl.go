// Package acl holds the static allowed-endpoint table every downstream
// request is checked against before it reaches the upstream client.
package acl

import "github.com/opensong/ws-proxy/internal/endpoint"

// table is the ordered list of allowed patterns, exactly as spec.md §6
// lists them: presentation first, then song, then set, then the two
// subscription commands. Order matters only in that the first matching
// pattern wins. Some patterns overlap (slide/* also covers slide/list
// and the */preview and */image forms; song/*/* also covers list/* and
// detail/*); every overlap allows the same requests either way.
var table = []endpoint.Endpoint{
	endpoint.FromParts("presentation", "status", "", ""),
	endpoint.FromParts("presentation", "slide", "", ""),
	endpoint.FromParts("presentation", "slide", "list", ""),
	endpoint.FromParts("presentation", "slide", "*", ""),
	endpoint.FromParts("presentation", "slide", "*", "preview"),
	endpoint.FromParts("presentation", "slide", "*", "image"),

	endpoint.FromParts("song", "", "", ""),
	endpoint.FromParts("song", "list", "", ""),
	endpoint.FromParts("song", "list", "*", ""),
	endpoint.FromParts("song", "*", "*", ""),
	endpoint.FromParts("song", "detail", "*", ""),
	endpoint.FromParts("song", "folders", "", ""),

	endpoint.FromParts("set", "", "", ""),
	endpoint.FromParts("set", "list", "", ""),
	endpoint.FromParts("set", "slide", "*", ""),

	endpoint.FromParts("ws", "subscribe", "*", ""),
	endpoint.FromParts("ws", "unsubscribe", "*", ""),
}

// Allows reports whether ep matches any pattern in the table, first
// match wins. An action or identifier that a table pattern leaves
// absent admits only a request that leaves it absent too: the bare
// "set" pattern allows "/set" but not "/set/unknown/123". Only "*"
// stands in for a supplied segment.
func Allows(ep endpoint.Endpoint) bool {
	for _, pattern := range table {
		if !pattern.Matches(ep) {
			continue
		}
		if pattern.Action() == "" && ep.Action() != "" {
			continue
		}
		if pattern.Identifier() == "" && ep.Identifier() != "" {
			continue
		}
		return true
	}
	return false
}
