package item

// eventTargets is the transition table shared by every live state.
var eventTargets = map[Event]State{
	EventLoginError:        StateBad,
	EventPendingDisconnect: StatePendingDisconnect,
	EventPendingExpiration: StatePendingExpiration,
	EventLoginRepaired:     StateGood,
	EventRevoke:            StateRevoked,
}

// Next returns the state an item in current moves to on event. applied is
// false when the combination is outside the table; the state is then left
// unchanged. REVOKED is absorbing and PENDING moves like GOOD.
func Next(current State, event Event) (next State, applied bool) {
	switch current {
	case StatePending, StateGood, StateBad, StatePendingDisconnect, StatePendingExpiration:
	default:
		return current, false
	}

	target, ok := eventTargets[event]
	if !ok {
		return current, false
	}
	return target, true
}

// ValidEvent reports whether e is a known transition event.
func ValidEvent(e Event) bool {
	_, ok := eventTargets[e]
	return ok
}
