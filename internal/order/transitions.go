package order

// allowedTransitions lists, for each current status, the operator targets it
// may move to. Terminal statuses have no outgoing edges.
var allowedTransitions = map[Status]map[Status]bool{
	StatusAwaitingPayment: {
		StatusPreparing:      true,
		StatusOutForDelivery: true,
		StatusDelivered:      true,
		StatusCancelled:      true,
	},
	StatusPending: {
		StatusPreparing:      true,
		StatusOutForDelivery: true,
		StatusDelivered:      true,
		StatusCancelled:      true,
	},
	StatusPreparing: {
		StatusOutForDelivery: true,
		StatusDelivered:      true,
		StatusCancelled:      true,
	},
	StatusOutForDelivery: {
		StatusPreparing: true,
		StatusDelivered: true,
		StatusCancelled: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

var statusOrder = []Status{
	StatusAwaitingPayment,
	StatusPending,
	StatusPreparing,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCancelled,
}

// IsOperatorTarget reports whether s can be requested through Transition.
func IsOperatorTarget(s Status) bool {
	switch s {
	case StatusPreparing, StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

type transitionConfig struct {
	onlyFrom map[Status]bool
}

type TransitionOption func(*transitionConfig)

// OnlyFrom restricts a transition to orders currently in one of statuses.
func OnlyFrom(statuses ...Status) TransitionOption {
	return func(c *transitionConfig) {
		if c.onlyFrom == nil {
			c.onlyFrom = make(map[Status]bool, len(statuses))
		}
		for _, s := range statuses {
			c.onlyFrom[s] = true
		}
	}
}

func (c transitionConfig) sourcesFor(target Status) []Status {
	sources := make([]Status, 0, len(statusOrder))
	for _, s := range statusOrder {
		if !allowedTransitions[s][target] {
			continue
		}
		if c.onlyFrom != nil && !c.onlyFrom[s] {
			continue
		}
		sources = append(sources, s)
	}
	return sources
}
