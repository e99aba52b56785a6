package policyopa

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"credledger/internal/domain"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const issuanceQuery = "data.credledger.issuance.result"

// Engine evaluates the issuance policy bundle before credentials are signed.
type Engine struct {
	query      rego.PreparedEvalQuery
	bundleHash string
	bundleID   string
}

// NewEngine compiles the rego bundle at path, which may be a single file or a
// directory. Policies calling builtins outside the allow-list are rejected.
func NewEngine(ctx context.Context, path string, bundleID string) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("policy path is required")
	}
	bundleHash, err := ComputeBundleHash(path)
	if err != nil {
		return nil, err
	}

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(issuanceQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{path}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare issuance policy: %w", err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}

	return &Engine{
		query:      prepared,
		bundleHash: bundleHash,
		bundleID:   bundleID,
	}, nil
}

func (e *Engine) BundleHash() string {
	return e.bundleHash
}

func (e *Engine) Evaluate(ctx context.Context, input domain.IssuancePolicyInput) (domain.PolicyEvaluation, error) {
	if e == nil {
		return domain.PolicyEvaluation{}, errors.New("policy engine is nil")
	}
	doc, err := inputDocument(input)
	if err != nil {
		return domain.PolicyEvaluation{}, err
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return domain.PolicyEvaluation{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.PolicyEvaluation{}, errors.New("empty policy result")
	}
	result, err := decodePolicyResult(results[0].Expressions[0].Value)
	if err != nil {
		return domain.PolicyEvaluation{}, fmt.Errorf("decode %s: %w", issuanceQuery, err)
	}
	normalizePolicyResult(&result)
	return domain.PolicyEvaluation{
		BundleID:   e.bundleID,
		BundleHash: e.bundleHash,
		Result:     result,
	}, nil
}

// inputDocument converts input to plain JSON values so rules see the same
// field names as the json tags.
func inputDocument(input domain.IssuancePolicyInput) (map[string]any, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// decodePolicyResult reads the {"allow": bool, "deny": [{"code", "message"}]}
// document produced by the policy.
func decodePolicyResult(value any) (domain.PolicyResult, error) {
	doc, ok := value.(map[string]any)
	if !ok {
		return domain.PolicyResult{}, fmt.Errorf("policy result is %T, want object", value)
	}
	allow, ok := doc["allow"].(bool)
	if !ok {
		return domain.PolicyResult{}, errors.New("policy result missing boolean allow")
	}
	result := domain.PolicyResult{Allow: allow}
	rawDeny, _ := doc["deny"].([]any)
	for _, item := range rawDeny {
		entry, ok := item.(map[string]any)
		if !ok {
			return domain.PolicyResult{}, fmt.Errorf("policy deny entry is %T, want object", item)
		}
		code, _ := entry["code"].(string)
		if code == "" {
			return domain.PolicyResult{}, errors.New("policy deny entry missing code")
		}
		message, _ := entry["message"].(string)
		result.Deny = append(result.Deny, domain.PolicyDeny{Code: code, Message: message})
	}
	return result, nil
}

// normalizePolicyResult orders denials by code then message and drops
// duplicates. Any denial overrides allow.
func normalizePolicyResult(result *domain.PolicyResult) {
	slices.SortFunc(result.Deny, func(a, b domain.PolicyDeny) int {
		if c := cmp.Compare(a.Code, b.Code); c != 0 {
			return c
		}
		return cmp.Compare(a.Message, b.Message)
	})
	result.Deny = slices.Compact(result.Deny)
	if len(result.Deny) > 0 {
		result.Allow = false
	}
}

// assertNoForbiddenBuiltins rejects compiled modules that still reference a
// builtin outside the allow-list.
func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	var forbidden []string
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			_, builtin := ast.BuiltinMap[name]
			_, allowed := allowedBuiltins[name]
			if builtin && !allowed && !slices.Contains(forbidden, name) {
				forbidden = append(forbidden, name)
			}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	slices.Sort(forbidden)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(forbidden, ", "))
}
