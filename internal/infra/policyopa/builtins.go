package policyopa

import "github.com/open-policy-agent/opa/ast"

// allowedBuiltins lists the functions an issuance policy may call.
// Nondeterministic builtins are excluded.
var allowedBuiltins = map[string]struct{}{
	// comparison and membership
	"eq":                {},
	"equal":             {},
	"neq":               {},
	"gt":                {},
	"gte":               {},
	"lt":                {},
	"lte":               {},
	"internal.member_2": {},

	// aggregates and arithmetic
	"count": {},
	"max":   {},
	"min":   {},
	"sum":   {},
	"sort":  {},
	"plus":  {},
	"minus": {},
	"abs":   {},

	// attribute names and values
	"concat":      {},
	"contains":    {},
	"endswith":    {},
	"lower":       {},
	"upper":       {},
	"replace":     {},
	"split":       {},
	"sprintf":     {},
	"startswith":  {},
	"substring":   {},
	"trim":        {},
	"trim_space":  {},
	"regex.match": {},

	// validity windows arrive as RFC3339 strings
	"time.parse_rfc3339_ns": {},

	"object.get": {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(allowedBuiltins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; ok {
			allowed = append(allowed, builtin)
		}
	}
	return allowed
}
