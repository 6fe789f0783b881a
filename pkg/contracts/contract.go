package contracts

// ContractVersion is the schema tag stamped on every ExecutionContract.
const ContractVersion = "0.1"

// ExecutionPath names the single strategy chosen for a request.
type ExecutionPath string

// Execution path constants.
const (
	PathOffline     ExecutionPath = "OFFLINE"
	PathSafeCache   ExecutionPath = "SAFE_CACHE"
	PathExternalAPI ExecutionPath = "EXTERNAL_API"
	PathModel       ExecutionPath = "MODEL"
	PathDeny        ExecutionPath = "DENY"
)

// FallbackID identifies a canned safe response in the fallback registry.
type FallbackID string

// Fallback id constants. The set is closed: the router and the gateway only
// ever emit these four.
const (
	FallbackPublicSafe   FallbackID = "FALLBACK_PUBLIC_SAFE"
	FallbackStaleCache   FallbackID = "FALLBACK_STALE_CACHE"
	FallbackExternalDown FallbackID = "FALLBACK_EXTERNAL_DOWN"
	FallbackDenyPrivate  FallbackID = "FALLBACK_DENY_PRIVATE"
)

// PrivateRiskThreshold is the risk score at and above which a contract
// always carries FallbackDenyPrivate.
const PrivateRiskThreshold = 0.8

// TimeAnchor pins the contract to wall-clock and session timing.
type TimeAnchor struct {
	NowISO         string `json:"now_iso"`
	SessionAgeS    int64  `json:"session_age_s"`
	LastTurnDeltaS int64  `json:"last_turn_delta_s"`
}

// ConfinedAccess describes remote calls the chosen path may make on the
// caller's behalf. Nothing is allow-listed today.
type ConfinedAccess struct {
	Allowed     bool     `json:"allowed"`
	AllowedRPCs []string `json:"allowed_rpcs"`
}

// ContractTrace carries the audit explanation of the routing decision.
type ContractTrace struct {
	DecisionReason string `json:"decision_reason"`
}

// ExecutionContract is the router's one decision artifact per request.
type ExecutionContract struct {
	ContractVersion string         `json:"contract_version"`
	TimeAnchor      TimeAnchor     `json:"time_anchor"`
	Path            ExecutionPath  `json:"path"`
	RiskScore       float64        `json:"risk_score"`
	MaxTokens       int            `json:"max_tokens"`
	AllowedTools    []string       `json:"allowed_tools"`
	ConfinedAccess  ConfinedAccess `json:"confined_access"`
	FallbackID      FallbackID     `json:"fallback_id"`
	Trace           ContractTrace  `json:"trace"`
}

// Deny returns a copy of the contract forced onto the DENY path. It is the
// only permitted mutation of a routed contract and is reserved for
// admission exhaustion discovered after routing.
func (c ExecutionContract) Deny(fallback FallbackID, reason string) ExecutionContract {
	c.Path = PathDeny
	c.MaxTokens = 0
	c.FallbackID = fallback
	if reason != "" {
		c.Trace.DecisionReason += "|" + reason
	}
	return c
}
