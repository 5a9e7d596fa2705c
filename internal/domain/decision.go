package domain

// Decision is the Enforcer's verdict on a single tool invocation.
type Decision struct {
	Allowed bool
	Reason  string // user-facing English string; populated on block, and on fail-open paths
}

func Allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func Block(reason string) Decision { return Decision{Allowed: false, Reason: reason} }
