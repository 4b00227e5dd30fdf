package audit

import "reflect"

// Diff reduces two snapshots to the keys whose values differ. A key missing
// on one side is reported as nil there. Both results are nil when nothing
// changed.
func Diff(before, after map[string]any) (map[string]any, map[string]any) {
	oldChanged := map[string]any{}
	newChanged := map[string]any{}

	for k, nv := range after {
		ov, ok := before[k]
		if ok && equal(ov, nv) {
			continue
		}
		oldChanged[k] = ov
		newChanged[k] = nv
	}

	for k, ov := range before {
		if _, ok := after[k]; ok {
			continue
		}
		oldChanged[k] = ov
		newChanged[k] = nil
	}

	if len(newChanged) == 0 {
		return nil, nil
	}
	return oldChanged, newChanged
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}
