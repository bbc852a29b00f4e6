// Package namespace parses and matches the hierarchical namespace paths that
// tag every raw frame produced by a multi-agent computation graph. A namespace
// identifies which parallel sub-task emitted a signal; it is an ordered path
// of alternating node-type and instance-id segments, or the root sentinel
// "main" for the top-level graph.
//
// Namespaces serve two purposes: routing (via patterns, which strip instance
// ids so that subscriptions match node types regardless of which concrete
// task produced the signal) and per-task isolation of accumulator state (via
// the task id carried in the final segment).
package namespace

import "strings"

const (
	// Root is the namespace of signals produced by the top-level graph
	// rather than a nested sub-task.
	Root = "main"

	// Sep separates path segments within a namespace string.
	Sep = ":"

	// MatchAll is the include-pattern sentinel that matches every
	// namespace.
	MatchAll = "all"

	// Wildcard is the trailing suffix that turns an include pattern into a
	// prefix match (e.g. "research:*" matches "research" and any namespace
	// nested under it).
	Wildcard = Sep + "*"
)

// Join builds a namespace string from the path segments carried on the wire.
// An empty path denotes the root graph and yields Root.
func Join(segments []string) string {
	if len(segments) == 0 {
		return Root
	}
	return strings.Join(segments, Sep)
}

// Components splits a namespace into its node path and task id. The root
// namespace has no task id. For nested namespaces the final segment is the
// instance (task) id of the innermost node and the remainder is the node
// path.
func Components(ns string) (path, taskID string) {
	if ns == "" || ns == Root {
		return Root, ""
	}
	i := strings.LastIndex(ns, Sep)
	if i < 0 {
		return ns, ""
	}
	return ns[:i], ns[i+1:]
}

// Pattern reduces a namespace to its subscription pattern by dropping the
// alternating instance-id segments and retaining only node-type tokens in
// order. Pattern is a pure function of the path: two namespaces with the
// same node-type sequence but different instance ids reduce to the same
// pattern.
func Pattern(ns string) string {
	if ns == "" || ns == Root {
		return Root
	}
	segs := strings.Split(ns, Sep)
	types := make([]string, 0, (len(segs)+1)/2)
	for i := 0; i < len(segs); i += 2 {
		types = append(types, segs[i])
	}
	return strings.Join(types, Sep)
}

// Matches reports whether a namespace is selected by the given include
// patterns and not suppressed by the exclude patterns. A namespace matches an
// include pattern when its reduced pattern is exactly equal to it, when the
// pattern ends in the trailing wildcard and is a path prefix, or when the
// include set contains MatchAll. Exclusion always wins: a namespace matched
// by any exclude pattern is never selected, regardless of includes.
func Matches(includes, excludes []string, ns string) bool {
	p := Pattern(ns)
	if matchAny(excludes, p) {
		return false
	}
	return matchAny(includes, p)
}

func matchAny(patterns []string, reduced string) bool {
	for _, pat := range patterns {
		if pat == MatchAll {
			return true
		}
		if prefix, ok := strings.CutSuffix(pat, Wildcard); ok {
			if reduced == prefix || strings.HasPrefix(reduced, prefix+Sep) {
				return true
			}
			continue
		}
		if reduced == pat {
			return true
		}
	}
	return false
}
