package auth

const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeWorkflowRead  = "workflow:read"
	ScopeWorkflowWrite = "workflow:write"
)

// AllScopes defines the full set of scopes requested by the Swagger UI
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeWorkflowRead,
	ScopeWorkflowWrite,
}
