package domain

// IssuancePolicyInput is the document handed to the issuance policy before a
// credential is signed. Times are RFC3339 UTC; ValidTo is empty when the
// credential does not expire.
type IssuancePolicyInput struct {
	Issuer    PolicyParty `json:"issuer"`
	Subject   PolicyParty `json:"subject"`
	Attribute Attribute   `json:"attribute"`
	ValidFrom string      `json:"valid_from"`
	ValidTo   string      `json:"valid_to,omitempty"`
}

type PolicyParty struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PolicyDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type PolicyResult struct {
	Allow bool         `json:"allow"`
	Deny  []PolicyDeny `json:"deny,omitempty"`
}

type PolicyEvaluation struct {
	BundleID   string       `json:"bundle_id,omitempty"`
	BundleHash string       `json:"bundle_hash"`
	Result     PolicyResult `json:"result"`
}
