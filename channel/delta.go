package channel

import "reflect"

// computeDelta derives the compact change between two recorded channel
// values. A list that grew by appending yields the new suffix; a map yields
// the changed and added keys; anything else yields the new value as-is.
func computeDelta(prev, next any) any {
	if suffix, ok := listGrowth(prev, next); ok {
		return suffix
	}
	if changed, ok := mapChanges(prev, next); ok {
		return changed
	}
	return next
}

func listGrowth(prev, next any) ([]any, bool) {
	pl, ok := prev.([]any)
	if !ok {
		return nil, false
	}
	nl, ok := next.([]any)
	if !ok {
		return nil, false
	}
	if len(nl) <= len(pl) {
		return nil, false
	}
	if !reflect.DeepEqual(pl, nl[:len(pl)]) {
		return nil, false
	}
	return nl[len(pl):], true
}

func mapChanges(prev, next any) (map[string]any, bool) {
	pm, ok := prev.(map[string]any)
	if !ok {
		return nil, false
	}
	nm, ok := next.(map[string]any)
	if !ok {
		return nil, false
	}
	changed := make(map[string]any)
	for k, nv := range nm {
		pv, had := pm[k]
		if !had || !reflect.DeepEqual(pv, nv) {
			changed[k] = nv
		}
	}
	if len(changed) == 0 {
		// The values differ only by removed keys; fall back to the raw
		// value so consumers still see the change.
		return nil, false
	}
	return changed, true
}
