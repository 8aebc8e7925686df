package admission

import "strings"

type PermissionState int

const (
	PermissionUnset PermissionState = iota
	PermissionGranted
	PermissionDenied
)

type Permissions interface {
	Permission(actorID, node string) PermissionState
}

// StaticPermissions is a config-backed grant/deny table keyed by actor id.
// The actor "*" applies to everyone. Nodes match exactly, by "*", or by a
// trailing ".*" prefix. A deny beats a grant.
type StaticPermissions struct {
	Granted map[string][]string
	Denied  map[string][]string
}

func (p StaticPermissions) Permission(actorID, node string) PermissionState {
	if matchAny(p.Denied[actorID], node) || matchAny(p.Denied["*"], node) {
		return PermissionDenied
	}
	if matchAny(p.Granted[actorID], node) || matchAny(p.Granted["*"], node) {
		return PermissionGranted
	}
	return PermissionUnset
}

func matchAny(patterns []string, node string) bool {
	for _, pat := range patterns {
		if matchNode(pat, node) {
			return true
		}
	}
	return false
}

func matchNode(pattern, node string) bool {
	pattern = strings.TrimSpace(pattern)
	switch {
	case pattern == "":
		return false
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(node, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == node
	}
}
