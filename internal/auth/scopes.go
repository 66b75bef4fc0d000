package auth

// Known OAuth scopes used by the backend.
const (
	ScopeActivitiesWrite = "activities:write"
	ScopeActivitiesRead  = "activities:read"
	ScopeProfileWrite    = "profile:write"
	ScopeProfileRead     = "profile:read"
)
