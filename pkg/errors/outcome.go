package errors

// Outcome classifies the result of one call against the data source so that retry and skip
// decisions are made by an explicit switch instead of by inspecting errors ad hoc.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRateLimited
	OutcomeUnavailable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "fatal"
	}
}

// Classify maps an error returned by a data-source call onto an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case IsRateLimited(err):
		return OutcomeRateLimited
	case IsUnavailable(err):
		return OutcomeUnavailable
	default:
		return OutcomeFatal
	}
}
