package refine

// Phase is the position of the controller in its refinement cycle:
//
//	Idle -> AwaitingEvaluation -> Evaluated -> Refining | Converged
//
// AwaitingEvaluation and Evaluated repeat once per iteration.
type Phase int

const (
	Idle Phase = iota
	AwaitingEvaluation
	Evaluated
	Refining
	Converged
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case AwaitingEvaluation:
		return "awaiting-evaluation"
	case Evaluated:
		return "evaluated"
	case Refining:
		return "refining"
	case Converged:
		return "converged"
	}
	return "unknown"
}
