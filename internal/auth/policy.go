package auth

import "fmt"

// Action is a closed set of operations the Policy decides on.
type Action int

// Actions, grouped by the rule that governs them.
const (
	actionUnknown Action = iota

	// Any authenticated principal.
	ActionReadSelf
	ActionChangeOwnPassword
	ActionCreateTier
	ActionListOwnTiers
	ActionReadPublicTiers

	// The resource owner or an admin.
	ActionReadUser
	ActionUpdateUser
	ActionListUserTiers
	ActionModifyTier
	ActionModifyItem

	// The resource owner or an admin, or anyone authenticated if the resource is public.
	ActionReadTier

	// Admins only.
	ActionListUsers
	ActionCreateUser
	ActionResetPassword
	ActionListAllTiers
	ActionListAllItems
	ActionViewAudit
	ActionViewSystem

	// Admins only, and never against their own account.
	ActionDeleteUser
	ActionChangeRole
)

var actionNames = map[Action]string{
	ActionReadSelf:          "read_self",
	ActionChangeOwnPassword: "change_own_password",
	ActionCreateTier:        "create_tier",
	ActionListOwnTiers:      "list_own_tiers",
	ActionReadPublicTiers:   "read_public_tiers",
	ActionReadUser:          "read_user",
	ActionUpdateUser:        "update_user",
	ActionListUserTiers:     "list_user_tiers",
	ActionModifyTier:        "modify_tier",
	ActionModifyItem:        "modify_item",
	ActionReadTier:          "read_tier",
	ActionListUsers:         "list_users",
	ActionCreateUser:        "create_user",
	ActionResetPassword:     "reset_password",
	ActionListAllTiers:      "list_all_tiers",
	ActionListAllItems:      "list_all_items",
	ActionViewAudit:         "view_audit",
	ActionViewSystem:        "view_system",
	ActionDeleteUser:        "delete_user",
	ActionChangeRole:        "change_role",
}

// String returns the snake_case action name used in logs and metrics.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Resource describes the target of an action.
type Resource struct {
	// Owner is the username owning the resource. For user records it is
	// the account's own username.
	Owner string

	// OwnerID is the owning account's ID. When set it decides ownership
	// and Owner is informational.
	OwnerID string

	// Public marks a tier readable by every authenticated principal.
	Public bool
}

type rule int

const (
	ruleDenyAll rule = iota
	ruleAuthenticated
	ruleOwnerOrAdmin
	ruleOwnerAdminOrPublic
	ruleAdmin
	ruleAdminNotSelf
)

func ruleFor(a Action) rule {
	switch a {
	case ActionReadSelf, ActionChangeOwnPassword, ActionCreateTier, ActionListOwnTiers, ActionReadPublicTiers:
		return ruleAuthenticated
	case ActionReadUser, ActionUpdateUser, ActionListUserTiers, ActionModifyTier, ActionModifyItem:
		return ruleOwnerOrAdmin
	case ActionReadTier:
		return ruleOwnerAdminOrPublic
	case ActionListUsers, ActionCreateUser, ActionResetPassword, ActionListAllTiers, ActionListAllItems, ActionViewAudit, ActionViewSystem:
		return ruleAdmin
	case ActionDeleteUser, ActionChangeRole:
		return ruleAdminNotSelf
	case actionUnknown:
		return ruleDenyAll
	default:
		return ruleDenyAll
	}
}

// AdminOnly reports whether action is never granted to a non-admin,
// whatever the resource. Callers may decide such actions before loading
// the resource.
func AdminOnly(a Action) bool {
	switch ruleFor(a) {
	case ruleAdmin, ruleAdminNotSelf:
		return true
	default:
		return false
	}
}

// Denial reasons reported to a Recorder.
const (
	DenialUnauthenticated = "unauthenticated"
	DenialForbidden       = "forbidden"
	DenialSelf            = "self_modification"
)

// Policy makes allow/deny decisions. It holds no mutable state.
type Policy struct {
	recorder Recorder
}

// NewPolicy creates a Policy. A nil recorder discards denial events.
func NewPolicy(recorder Recorder) *Policy {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Policy{recorder: recorder}
}

// Authorize returns nil when p may perform action on res.
//
// It returns ErrUnauthenticated when p is nil or has no roles, and an error
// wrapping ErrForbidden otherwise. Admin-not-self actions against the
// principal's own account also wrap ErrSelfModification, whatever the role.
func (pol *Policy) Authorize(p *Principal, action Action, res Resource) error {
	if p == nil || p.Roles.IsEmpty() {
		pol.recorder.PolicyDenial(action, DenialUnauthenticated)
		return ErrUnauthenticated
	}

	isAdmin := p.Roles.Has(RoleAdmin)
	isOwner := p.Owns(res)

	allowed := false
	switch ruleFor(action) {
	case ruleAuthenticated:
		allowed = true
	case ruleOwnerOrAdmin:
		allowed = isOwner || isAdmin
	case ruleOwnerAdminOrPublic:
		allowed = res.Public || isOwner || isAdmin
	case ruleAdmin:
		allowed = isAdmin
	case ruleAdminNotSelf:
		if isOwner {
			pol.recorder.PolicyDenial(action, DenialSelf)
			return fmt.Errorf("%w: %w", ErrForbidden, ErrSelfModification)
		}
		allowed = isAdmin
	case ruleDenyAll:
		allowed = false
	}

	if !allowed {
		pol.recorder.PolicyDenial(action, DenialForbidden)
		return fmt.Errorf("%w: %s", ErrForbidden, action)
	}
	return nil
}
