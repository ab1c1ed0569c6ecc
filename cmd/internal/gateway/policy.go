package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the visibility class of a route.
type Kind int

const (
	KindProtected Kind = iota
	KindPublic
	KindPublicReadOnly
	KindRoleRestricted
)

func (k Kind) String() string {
	switch k {
	case KindPublic:
		return "public"
	case KindPublicReadOnly:
		return "public_read_only"
	case KindRoleRestricted:
		return "role_restricted"
	default:
		return "protected"
	}
}

// ParseKind maps a policy-file name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return KindPublic, nil
	case "public_read_only", "public-read-only", "read_only":
		return KindPublicReadOnly, nil
	case "role_restricted", "role-restricted", "role":
		return KindRoleRestricted, nil
	case "protected":
		return KindProtected, nil
	default:
		return 0, fmt.Errorf("gateway: unknown visibility %q", s)
	}
}

// Visibility is the verdict for a request. Role is set only for KindRoleRestricted.
type Visibility struct {
	Kind Kind
	Role string
}

var (
	Public         = Visibility{Kind: KindPublic}
	PublicReadOnly = Visibility{Kind: KindPublicReadOnly}
	Protected      = Visibility{Kind: KindProtected}
)

// RoleRestricted returns a visibility that admits only sessions holding role.
func RoleRestricted(role string) Visibility {
	return Visibility{Kind: KindRoleRestricted, Role: normalizeRole(role)}
}

func (v Visibility) String() string {
	if v.Kind == KindRoleRestricted {
		return v.Kind.String() + "(" + v.Role + ")"
	}
	return v.Kind.String()
}

// Rule is one entry of a route policy.
// Methods, when non-empty, limits the rule to those methods; read-only rules
// default to GET.
type Rule struct {
	Pattern    string
	Visibility Visibility
	Methods    []string
}

func (r Rule) allows(method string) bool {
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// matches applies the boundary rule: exact match, or prefix followed by "/".
// The root pattern only ever matches exactly.
func (r Rule) matches(path string) bool {
	if path == r.Pattern {
		return true
	}
	if r.Pattern == "/" {
		return false
	}
	return strings.HasPrefix(path, r.Pattern+"/")
}

var (
	ErrEmptyPattern   = errors.New("gateway: empty pattern")
	ErrInvalidPattern = errors.New("gateway: pattern must start with / and not end with /")
	ErrMissingRole    = errors.New("gateway: role_restricted rule requires a role")
	ErrProtectedRule  = errors.New("gateway: protected is the default and cannot be a rule")
)

// Policy is an immutable, validated list of rules grouped by kind.
type Policy struct {
	public   []Rule
	readOnly []Rule
	role     []Rule
}

// NewPolicy validates and copies rules. Declaration order is preserved within
// each kind.
func NewPolicy(rules ...Rule) (*Policy, error) {
	p := &Policy{}
	for i, r := range rules {
		nr, err := normalizeRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%q): %w", i, r.Pattern, err)
		}
		switch nr.Visibility.Kind {
		case KindPublic:
			p.public = append(p.public, nr)
		case KindPublicReadOnly:
			p.readOnly = append(p.readOnly, nr)
		case KindRoleRestricted:
			p.role = append(p.role, nr)
		}
	}
	return p, nil
}

// MustPolicy is NewPolicy for static tables; it panics on invalid input.
func MustPolicy(rules ...Rule) *Policy {
	p, err := NewPolicy(rules...)
	if err != nil {
		panic(err)
	}
	return p
}

// Rules returns a copy of the policy's rules in evaluation order.
func (p *Policy) Rules() []Rule {
	if p == nil {
		return nil
	}
	out := make([]Rule, 0, len(p.public)+len(p.readOnly)+len(p.role))
	for _, group := range [][]Rule{p.public, p.readOnly, p.role} {
		for _, r := range group {
			r.Methods = append([]string(nil), r.Methods...)
			out = append(out, r)
		}
	}
	return out
}

// DefaultPolicy is the dealership platform's route table.
func DefaultPolicy() *Policy {
	return MustPolicy(
		Rule{Pattern: "/", Visibility: Public},
		Rule{Pattern: "/login", Visibility: Public},
		Rule{Pattern: "/register", Visibility: Public},
		Rule{Pattern: "/api/auth", Visibility: Public},
		Rule{Pattern: "/inventory", Visibility: Public},

		Rule{Pattern: "/api/vehicles", Visibility: PublicReadOnly},
		Rule{Pattern: "/api/health", Visibility: PublicReadOnly},

		Rule{Pattern: "/api/users", Visibility: RoleRestricted("admin")},
	)
}

func normalizeRule(r Rule) (Rule, error) {
	pat := strings.TrimSpace(r.Pattern)
	switch {
	case pat == "":
		return Rule{}, ErrEmptyPattern
	case !strings.HasPrefix(pat, "/"):
		return Rule{}, ErrInvalidPattern
	case pat != "/" && strings.HasSuffix(pat, "/"):
		return Rule{}, ErrInvalidPattern
	}

	vis := r.Visibility
	switch vis.Kind {
	case KindPublic, KindPublicReadOnly:
		vis.Role = ""
	case KindRoleRestricted:
		vis.Role = normalizeRole(vis.Role)
		if vis.Role == "" {
			return Rule{}, ErrMissingRole
		}
	case KindProtected:
		return Rule{}, ErrProtectedRule
	default:
		return Rule{}, fmt.Errorf("gateway: unknown visibility kind %d", vis.Kind)
	}

	var methods []string
	for _, m := range r.Methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m != "" {
			methods = append(methods, m)
		}
	}
	if vis.Kind == KindPublicReadOnly && len(methods) == 0 {
		methods = []string{http.MethodGet}
	}

	return Rule{Pattern: pat, Visibility: vis, Methods: methods}, nil
}

func normalizeRole(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
