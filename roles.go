package onboard

import (
	"sort"
	"strconv"
	"strings"
)

// Role is the closed set of team roles a user may hold on a service.
// The zero value is not a role.
type Role int

const (
	RoleUnknown Role = iota
	RoleAdmin
	RoleViewAndRefund
	RoleViewOnly
	RoleViewAndInitiateMoto
	RoleViewRefundAndInitiateMoto
)

// Permission names an operation as "<resource>:<action>".
type Permission string

const (
	PermUsersServiceRead       Permission = "users-service:read"
	PermUsersServiceCreate     Permission = "users-service:create"
	PermUsersServiceUpdate     Permission = "users-service:update"
	PermUsersServiceDelete     Permission = "users-service:delete"
	PermTransactionsRead       Permission = "transactions:read"
	PermTransactionsDetailRead Permission = "transactions-details:read"
	PermTransactionsDownload   Permission = "transactions-download:read"
	PermRefundsCreate          Permission = "refunds:create"
	PermTokensRead             Permission = "tokens:read"
	PermTokensCreate           Permission = "tokens:create"
	PermTokensDelete           Permission = "tokens:delete"
	PermPaymentLinksRead       Permission = "payment-links:read"
	PermPaymentLinksCreate     Permission = "payment-links:create"
	PermMotoPaymentsCreate     Permission = "agent-initiated-moto:create"
	PermServiceNameUpdate      Permission = "service-name:update"
	PermMerchantDetailsUpdate  Permission = "merchant-details:update"
	PermToggle3dsUpdate        Permission = "toggle-3ds:update"
	PermGatewayCredentials     Permission = "gateway-credentials:update"
	PermWebhooksUpdate         Permission = "webhooks:update"
)

// PermissionSet is an immutable-by-convention set of permissions.
type PermissionSet map[Permission]struct{}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// List returns the permissions sorted by name.
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func newPermissionSet(groups ...[]Permission) PermissionSet {
	set := PermissionSet{}
	for _, g := range groups {
		for _, p := range g {
			set[p] = struct{}{}
		}
	}
	return set
}

var (
	viewPermissions = []Permission{
		PermUsersServiceRead,
		PermTransactionsRead,
		PermTransactionsDetailRead,
		PermTransactionsDownload,
		PermPaymentLinksRead,
		PermTokensRead,
	}
	refundPermissions = []Permission{PermRefundsCreate}
	motoPermissions   = []Permission{PermMotoPaymentsCreate}
	adminPermissions  = []Permission{
		PermUsersServiceCreate,
		PermUsersServiceUpdate,
		PermUsersServiceDelete,
		PermTokensCreate,
		PermTokensDelete,
		PermPaymentLinksCreate,
		PermServiceNameUpdate,
		PermMerchantDetailsUpdate,
		PermToggle3dsUpdate,
		PermGatewayCredentials,
		PermWebhooksUpdate,
	}
)

// IsValid checks if the role is one of the catalog roles
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleViewAndRefund, RoleViewOnly,
		RoleViewAndInitiateMoto, RoleViewRefundAndInitiateMoto:
		return true
	default:
		return false
	}
}

// ExternalID is the stable id used on HTML forms.
func (r Role) ExternalID() int {
	switch r {
	case RoleAdmin:
		return 2
	case RoleViewAndRefund:
		return 3
	case RoleViewOnly:
		return 4
	case RoleViewAndInitiateMoto:
		return 5
	case RoleViewRefundAndInitiateMoto:
		return 6
	default:
		return 0
	}
}

// Name is the internal role name stored against the user.
func (r Role) Name() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleViewAndRefund:
		return "view-and-refund"
	case RoleViewOnly:
		return "view-only"
	case RoleViewAndInitiateMoto:
		return "view-and-initiate-moto"
	case RoleViewRefundAndInitiateMoto:
		return "view-refund-and-initiate-moto"
	default:
		return ""
	}
}

// Description is the human readable label.
func (r Role) Description() string {
	switch r {
	case RoleAdmin:
		return "Administrator"
	case RoleViewAndRefund:
		return "View and refund"
	case RoleViewOnly:
		return "View only"
	case RoleViewAndInitiateMoto:
		return "View and take telephone payments"
	case RoleViewRefundAndInitiateMoto:
		return "View, refund and take telephone payments"
	default:
		return ""
	}
}

func (r Role) String() string {
	if !r.IsValid() {
		return "unknown"
	}
	return r.Name()
}

// Permissions returns the permission set granted by the role.
func (r Role) Permissions() PermissionSet {
	return PermissionsFor(r)
}

// Can reports whether the role grants p.
func (r Role) Can(p Permission) bool {
	return PermissionsFor(r).Has(p)
}

// PermissionsFor is total over Role: unknown roles map to an empty set.
func PermissionsFor(r Role) PermissionSet {
	switch r {
	case RoleAdmin:
		return newPermissionSet(viewPermissions, refundPermissions, motoPermissions, adminPermissions)
	case RoleViewAndRefund:
		return newPermissionSet(viewPermissions, refundPermissions)
	case RoleViewOnly:
		return newPermissionSet(viewPermissions)
	case RoleViewAndInitiateMoto:
		return newPermissionSet(viewPermissions, motoPermissions)
	case RoleViewRefundAndInitiateMoto:
		return newPermissionSet(viewPermissions, refundPermissions, motoPermissions)
	default:
		return PermissionSet{}
	}
}

// GetAllRoles returns the catalog ordered by external id
func GetAllRoles() []Role {
	return []Role{
		RoleAdmin,
		RoleViewAndRefund,
		RoleViewOnly,
		RoleViewAndInitiateMoto,
		RoleViewRefundAndInitiateMoto,
	}
}

// ResolveRoleByExternalID maps a form id back to a role. Ids outside the
// table return ErrRoleNotFound; callers must refuse the operation.
func ResolveRoleByExternalID(id int) (Role, error) {
	for _, r := range GetAllRoles() {
		if r.ExternalID() == id {
			return r, nil
		}
	}
	return RoleUnknown, withMeta(ErrRoleNotFound, map[string]any{"external_id": id})
}

// ParseRoleExternalID resolves a raw form value.
func ParseRoleExternalID(raw string) (Role, error) {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return RoleUnknown, withMeta(ErrRoleNotFound, map[string]any{"external_id": raw})
	}
	return ResolveRoleByExternalID(id)
}

// ResolveRoleByName maps a stored role name back to a role.
func ResolveRoleByName(name string) (Role, error) {
	for _, r := range GetAllRoles() {
		if r.Name() == name {
			return r, nil
		}
	}
	return RoleUnknown, withMeta(ErrRoleNotFound, map[string]any{"name": name})
}
