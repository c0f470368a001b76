package dossier

// transitions is the closed edge set of the approval graph. Every status
// check in the service goes through CanTransition so "what can happen next"
// has exactly one source of truth.
var transitions = map[Status][]Status{
	StatusDraft:                      {StatusPending},
	StatusPending:                    {StatusControllerApproved, StatusRejectedByController},
	StatusRejectedByController:       {StatusPending},
	StatusControllerApproved:         {StatusAuthorizingOfficerApproved},
	StatusAuthorizingOfficerApproved: {StatusDefinitivelyApproved},
	StatusDefinitivelyApproved:       {StatusClosed},
	StatusClosed:                     nil,
}

// CanTransition reports whether the edge from -> to exists in the graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable in one step from s.
func NextStatuses(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// Terminal reports whether no further transition can leave s.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}
