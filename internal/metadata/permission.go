package metadata

import (
	"encoding/json"
	"fmt"
)

// Action is one of the four CRUD verbs a module permission grants.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Capability names a single permission flag: either "module:action" or
// one of the named administrative flags below.
type Capability string

const (
	CapBulkOperation      Capability = "bulk_operation"
	CapManageAPIKeys      Capability = "can_manage_api_keys"
	CapManagePrompts      Capability = "can_manage_prompts"
	CapManageRoles        Capability = "can_manage_roles"
	CapUpdateUsers        Capability = "can_update_users"
	CapDeleteUsers        Capability = "can_delete_users"
	CapUpdateUserPassword Capability = "can_update_user_password"
)

// ModuleCapability returns the capability for action on module.
func ModuleCapability(module string, action Action) Capability {
	return Capability(module + ":" + string(action))
}

type ModulePermission struct {
	Module string `json:"module"`
	Create bool   `json:"create"`
	Read   bool   `json:"read"`
	Update bool   `json:"update"`
	Delete bool   `json:"delete"`
}

type AdminPermissions struct {
	BulkOperation    bool `json:"bulk_operation"`
	CanManageAPIKeys bool `json:"can_manage_api_keys"`
	CanManagePrompts bool `json:"can_manage_prompts"`
	CanManageRoles   bool `json:"can_manage_roles"`
}

type UserPermissions struct {
	CanUpdateUsers        bool `json:"can_update_users"`
	CanDeleteUsers        bool `json:"can_delete_users"`
	CanUpdateUserPassword bool `json:"can_update_user_password"`
}

// Role is a named bundle of module and administrative permissions. Roles
// are records in the roles collection.
type Role struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Description      string             `json:"description,omitempty"`
	Permissions      []ModulePermission `json:"permissions"`
	AdminPermissions AdminPermissions   `json:"adminPermissions"`
	UserPermissions  UserPermissions    `json:"userPermissions"`
}

// PermissionSet is the flattened capability map of a role.
type PermissionSet map[Capability]bool

// RoleFromDocument decodes a stored role record.
func RoleFromDocument(doc map[string]any) (*Role, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode role: %w", err)
	}
	var r Role
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode role: %w", err)
	}
	return &r, nil
}

// Document returns the role as a storable record.
func (r *Role) Document() map[string]any {
	raw, _ := json.Marshal(r)
	var doc map[string]any
	_ = json.Unmarshal(raw, &doc)
	return doc
}

// PermissionSet compiles the role into its capability map.
func (r *Role) PermissionSet() PermissionSet {
	set := make(PermissionSet)
	for _, p := range r.Permissions {
		set[ModuleCapability(p.Module, ActionCreate)] = p.Create
		set[ModuleCapability(p.Module, ActionRead)] = p.Read
		set[ModuleCapability(p.Module, ActionUpdate)] = p.Update
		set[ModuleCapability(p.Module, ActionDelete)] = p.Delete
	}
	set[CapBulkOperation] = r.AdminPermissions.BulkOperation
	set[CapManageAPIKeys] = r.AdminPermissions.CanManageAPIKeys
	set[CapManagePrompts] = r.AdminPermissions.CanManagePrompts
	set[CapManageRoles] = r.AdminPermissions.CanManageRoles
	set[CapUpdateUsers] = r.UserPermissions.CanUpdateUsers
	set[CapDeleteUsers] = r.UserPermissions.CanDeleteUsers
	set[CapUpdateUserPassword] = r.UserPermissions.CanUpdateUserPassword
	return set
}

// HasCapability is the single permission gate. A nil role holds nothing.
func HasCapability(role *Role, c Capability) bool {
	if role == nil {
		return false
	}
	return role.PermissionSet()[c]
}

// FullAccessRole returns a role holding every capability over modules.
func FullAccessRole(name string, modules []string) *Role {
	r := &Role{
		Name:        name,
		Description: "Full access to every module",
		AdminPermissions: AdminPermissions{
			BulkOperation:    true,
			CanManageAPIKeys: true,
			CanManagePrompts: true,
			CanManageRoles:   true,
		},
		UserPermissions: UserPermissions{
			CanUpdateUsers:        true,
			CanDeleteUsers:        true,
			CanUpdateUserPassword: true,
		},
	}
	for _, m := range modules {
		r.Permissions = append(r.Permissions, ModulePermission{
			Module: m, Create: true, Read: true, Update: true, Delete: true,
		})
	}
	return r
}
