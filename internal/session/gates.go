package session

// PreconditionError is a local gate refusing a fetch. No request was sent.
type PreconditionError struct {
	Gate    string
	Message string
}

func (e *PreconditionError) Error() string { return e.Message }

// Gate is a named precondition over session state.
type Gate struct {
	Name  string
	Check func(s *Session) bool
	Unmet string
}

var (
	gateDataset = Gate{
		Name:  "dataset",
		Check: func(s *Session) bool { return s.hasDataset },
		Unmet: "dataset required: upload a dataset first",
	}
	gatePCA = Gate{
		Name:  "pca",
		Check: func(s *Session) bool { return s.hasDataset && s.pcaSucceeded },
		Unmet: "PCA must succeed first: run PCA before K-Means",
	}
)

// firstUnmet returns the first failing gate, checked in chain order.
// Caller holds s.mu.
func firstUnmet(s *Session, gates []Gate) *PreconditionError {
	for _, g := range gates {
		if !g.Check(s) {
			return &PreconditionError{Gate: g.Name, Message: g.Unmet}
		}
	}
	return nil
}
