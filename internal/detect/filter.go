package detect

import "sort"

// CapPolicy limits how many detections of each class survive
// filtering. Classes absent from Caps use Default. The policy is
// process-lifetime constant and read-only after construction.
type CapPolicy struct {
	Caps    map[string]int
	Default int
}

// CapFor returns the maximum kept detections for a class.
func (p CapPolicy) CapFor(class string) int {
	if limit, ok := p.Caps[class]; ok {
		return limit
	}
	return p.Default
}

// Apply sorts each class's detections by descending confidence (stable
// on arrival order for ties), truncates to the class cap and
// concatenates classes in sorted name order so output is deterministic.
func (p CapPolicy) Apply(byClass map[string][]Detection) []Detection {
	classes := make([]string, 0, len(byClass))
	for name := range byClass {
		classes = append(classes, name)
	}
	sort.Strings(classes)

	var filtered []Detection
	for _, name := range classes {
		dets := byClass[name]
		sort.SliceStable(dets, func(i, j int) bool {
			return dets[i].Confidence > dets[j].Confidence
		})

		limit := p.CapFor(name)
		if len(dets) > limit {
			dets = dets[:limit]
		}
		filtered = append(filtered, dets...)
	}
	return filtered
}
