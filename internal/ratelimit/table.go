package ratelimit

// Table resolves the policy for a route/key pair: per-key override on a
// route wins over the route's own policy, which wins over the default.
// Tables are immutable; a config reload publishes a fresh one.
type Table struct {
	Default Policy
	Routes  map[string]Policy
	Keys    map[string]map[string]Policy // route id -> key id -> policy
}

func (t *Table) Resolve(routeID, keyID string) Policy {
	if byKey, ok := t.Keys[routeID]; ok {
		if p, ok := byKey[keyID]; ok {
			return p
		}
	}
	if p, ok := t.Routes[routeID]; ok {
		return p
	}
	return t.Default
}
