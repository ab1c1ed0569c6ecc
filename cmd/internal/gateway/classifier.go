package gateway

import "strings"

// Classification is a classified request plus what the gate needs to answer it.
type Classification struct {
	Visibility Visibility
	Path       string
	RawQuery   string
	Method     string

	// API marks data calls (/api and below); everything else is a page navigation.
	API bool
}

// Target is the original path and query, used as the post-login return target.
func (c Classification) Target() string {
	if c.RawQuery == "" {
		return c.Path
	}
	return c.Path + "?" + c.RawQuery
}

// Classifier maps requests to visibilities using a fixed Policy.
type Classifier struct {
	policy *Policy
}

// NewClassifier binds a classifier to policy. A nil policy classifies
// everything as Protected.
func NewClassifier(policy *Policy) *Classifier {
	if policy == nil {
		policy = &Policy{}
	}
	return &Classifier{policy: policy}
}

// Classify returns the visibility of (path, method).
//
// Public rules are consulted first, then read-only rules (method-limited),
// then role restrictions; anything unmatched is Protected.
func (c *Classifier) Classify(path, method string) Visibility {
	method = strings.ToUpper(method)
	for _, r := range c.policy.public {
		if r.matches(path) && r.allows(method) {
			return r.Visibility
		}
	}
	for _, r := range c.policy.readOnly {
		if r.matches(path) && r.allows(method) {
			return r.Visibility
		}
	}
	for _, r := range c.policy.role {
		if r.matches(path) && r.allows(method) {
			return r.Visibility
		}
	}
	return Protected
}

// ClassifyRequest classifies path and records the request context.
func (c *Classifier) ClassifyRequest(path, rawQuery, method string) Classification {
	return Classification{
		Visibility: c.Classify(path, method),
		Path:       path,
		RawQuery:   rawQuery,
		Method:     strings.ToUpper(method),
		API:        isAPIPath(path),
	}
}

func isAPIPath(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}
