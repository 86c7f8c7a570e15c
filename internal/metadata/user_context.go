package metadata

// Principal is the authenticated caller, set by the auth middleware. Role
// is resolved lazily by the engine from RoleID.
type Principal struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	RoleID string `json:"role"`
	Role   *Role  `json:"-"`
}

// Can checks a capability against the resolved role.
func (p *Principal) Can(c Capability) bool {
	if p == nil {
		return false
	}
	return HasCapability(p.Role, c)
}
