package rbac

type Permission string
type Action string

const (
	PermissionNone Permission = "none"
	PermissionView Permission = "view"
	PermissionEdit Permission = "edit"
)

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionShare Action = "share"
)

func (p Permission) rank() int {
	switch p {
	case PermissionEdit:
		return 2
	case PermissionView:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether p grants everything min grants.
func (p Permission) AtLeast(min Permission) bool {
	return p.rank() >= min.rank()
}

func Can(permission Permission, action Action) bool {
	switch permission {
	case PermissionEdit:
		return action == ActionRead || action == ActionWrite || action == ActionShare
	case PermissionView:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps a stored grant value to a permission; anything unknown is none.
func Normalize(value string) Permission {
	switch Permission(value) {
	case PermissionView, PermissionEdit:
		return Permission(value)
	default:
		return PermissionNone
	}
}

// Grantable reports whether value may be stored on a collaborator grant.
func Grantable(value string) bool {
	p := Permission(value)
	return p == PermissionView || p == PermissionEdit
}

// Resolve computes the effective permission. Authors always edit; public
// documents are at least viewable by anyone; everyone else gets their grant.
func Resolve(isPublic, isAuthor bool, grant Permission) Permission {
	if isAuthor {
		return PermissionEdit
	}
	effective := Normalize(string(grant))
	if isPublic && !effective.AtLeast(PermissionView) {
		return PermissionView
	}
	return effective
}
