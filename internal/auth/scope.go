package auth

import "strings"

// Scope is one grant in a client's scope string. The grammar is:
//
//	*                          - every resource, every action
//	resource:action            - every object of that resource/action
//	resource:action:object_id  - a single object
//
// Resources are topics, subscriptions, clients. Actions are create, read,
// delete, update, publish, consume.
type Scope struct {
	Resource string
	Action   string
	ObjectID string
}

const wildcardScope = "*"

// ParseScopes splits a space-separated scope string into Scopes, skipping
// malformed entries rather than failing the whole parse — a single bad scope
// should not lock a client out of every grant it does hold.
func ParseScopes(raw string) []Scope {
	fields := strings.Fields(raw)
	scopes := make([]Scope, 0, len(fields))
	for _, f := range fields {
		if f == wildcardScope {
			scopes = append(scopes, Scope{Resource: wildcardScope})
			continue
		}
		parts := strings.SplitN(f, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		s := Scope{Resource: parts[0], Action: parts[1]}
		if len(parts) == 3 {
			s.ObjectID = parts[2]
		}
		scopes = append(scopes, s)
	}
	return dedupeScopes(scopes)
}

func dedupeScopes(scopes []Scope) []Scope {
	seen := make(map[Scope]struct{}, len(scopes))
	out := make([]Scope, 0, len(scopes))
	for _, s := range scopes {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Allows reports whether this scope grants resource/action on objectID. An
// empty objectID means the caller is asking about the resource in general
// (e.g. a list or create endpoint with no single target).
func (s Scope) Allows(resource, action, objectID string) bool {
	if s.Resource == wildcardScope {
		return true
	}
	if s.Resource != resource || s.Action != action {
		return false
	}
	if s.ObjectID == "" {
		return true
	}
	return s.ObjectID == objectID
}

// AnyAllows reports whether any scope in the set grants resource/action on
// objectID.
func AnyAllows(scopes []Scope, resource, action, objectID string) bool {
	for _, s := range scopes {
		if s.Allows(resource, action, objectID) {
			return true
		}
	}
	return false
}
