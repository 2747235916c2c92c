package scheduler

import (
	"fmt"
	"sort"
)

// Default priority classes.
const (
	PriorityNormal   = "NORMAL"
	PriorityHigh     = "HIGH"
	PriorityCritical = "CRITICAL"
)

// Weights maps a priority class to the number of chunks a task of that class
// may send per scheduling cycle. A Weights value is read-only once built and
// may be shared between sessions.
type Weights struct {
	quota map[string]int
}

// DefaultWeights returns NORMAL=1, HIGH=4, CRITICAL=10.
func DefaultWeights() Weights {
	return Weights{quota: map[string]int{
		PriorityNormal:   1,
		PriorityHigh:     4,
		PriorityCritical: 10,
	}}
}

// NewWeights copies m into a weight table. Classes must be non-empty and
// weights non-negative.
func NewWeights(m map[string]int) (Weights, error) {
	if len(m) == 0 {
		return Weights{}, fmt.Errorf("priority table is empty")
	}
	quota := make(map[string]int, len(m))
	for class, w := range m {
		if class == "" {
			return Weights{}, fmt.Errorf("priority class name is empty")
		}
		if w < 0 {
			return Weights{}, fmt.Errorf("priority %s: negative weight %d", class, w)
		}
		quota[class] = w
	}
	return Weights{quota: quota}, nil
}

// Quota returns the per-cycle chunk quota for class; unknown classes get 0.
func (w Weights) Quota(class string) int {
	return w.quota[class]
}

// Known reports whether class is in the table.
func (w Weights) Known(class string) bool {
	_, ok := w.quota[class]
	return ok
}

// Classes returns the class names sorted by descending weight, then name.
func (w Weights) Classes() []string {
	out := make([]string, 0, len(w.quota))
	for class := range w.quota {
		out = append(out, class)
	}
	sort.Slice(out, func(i, j int) bool {
		wi, wj := w.quota[out[i]], w.quota[out[j]]
		if wi != wj {
			return wi > wj
		}
		return out[i] < out[j]
	})
	return out
}
