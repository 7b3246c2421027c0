package auth

type PrincipalKind int

const (
	PrincipalAgent PrincipalKind = iota + 1
	PrincipalOperator
)

func (k PrincipalKind) String() string {
	switch k {
	case PrincipalAgent:
		return "agent"
	case PrincipalOperator:
		return "operator"
	default:
		return "unknown"
	}
}

// Principal identifies who is on the other end of a channel. Agents carry
// their agent id, operators their user id, username and role.
type Principal struct {
	Kind     PrincipalKind
	ID       string
	Username string
	Role     string
}

func AgentPrincipal(agentID string) Principal {
	return Principal{Kind: PrincipalAgent, ID: agentID}
}

func OperatorPrincipal(claims *Claims) Principal {
	return Principal{
		Kind:     PrincipalOperator,
		ID:       claims.Subject,
		Username: claims.Username,
		Role:     claims.Role,
	}
}

func (p Principal) IsAgent() bool { return p.Kind == PrincipalAgent }

func (p Principal) IsOperator() bool { return p.Kind == PrincipalOperator }
