package state

import "sync"

// Slice selectors.
func SelectCurrentMode(s State) Mode       { return s.CurrentMode }
func SelectSourceFile(s State) *SourceFile { return s.SourceFile }
func SelectVRAMLimit(s State) float64      { return s.VRAMBudget }
func SelectLoadedModel(s State) string     { return s.LoadedModel }
func SelectCanny(s State) bool             { return s.CannyEdges }
func SelectGuidanceScale(s State) float64  { return s.GuidanceScale }
func SelectInferenceSteps(s State) int     { return s.InferenceSteps }

// CreateSelector memoizes transform on the value of dep. transform runs
// again only when dep's result changes.
func CreateSelector[D comparable, R any](dep func(State) D, transform func(D) R) func(State) R {
	var (
		mu     sync.Mutex
		primed bool
		last   D
		result R
	)
	return func(s State) R {
		d := dep(s)
		mu.Lock()
		defer mu.Unlock()
		if !primed || d != last {
			primed = true
			last = d
			result = transform(d)
		}
		return result
	}
}

// CreateSelector2 is CreateSelector over two dependencies.
func CreateSelector2[A, B comparable, R any](depA func(State) A, depB func(State) B, transform func(A, B) R) func(State) R {
	return CreateSelector(
		func(s State) pair[A, B] { return pair[A, B]{depA(s), depB(s)} },
		func(p pair[A, B]) R { return transform(p.a, p.b) },
	)
}

type pair[A, B comparable] struct {
	a A
	b B
}
