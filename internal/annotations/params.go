package annotations

// Action identifies what a principal is trying to do with a stored object.
type Action int

const (
	// ActionSee covers any read of an annotation or collection.
	ActionSee Action = iota
	// ActionEdit covers update, delete and collection membership changes.
	ActionEdit
	// ActionTraverse is the internal privilege used while walking target
	// chains to maintain denormalized state. It is never exposed to callers
	// and is exempt from access control.
	ActionTraverse
)

func (a Action) String() string {
	switch a {
	case ActionSee:
		return "see"
	case ActionEdit:
		return "edit"
	case ActionTraverse:
		return "traverse"
	default:
		return "unknown"
	}
}

// Filter narrows annotation listings by what they target.
type Filter struct {
	TargetID   string
	TargetType string
}

// Params carries the request-scoped options recognized by the store. A nil
// *Params means no permission parameters were supplied at all, which is an
// error when creating new objects.
type Params struct {
	// Username is the authenticated principal; empty means anonymous.
	Username string
	// AccessStatus holds the requested access statuses (private, shared,
	// public). Nil means the caller did not ask for a change.
	AccessStatus []string
	CanSee       []string
	CanEdit      []string
	// IncludePermissions asks for the permission block in responses.
	IncludePermissions bool
	// EditableOnly restricts listings to objects the principal may edit.
	EditableOnly bool
	Page               int
	Filter             *Filter
}

func (p *Params) username() string {
	if p == nil {
		return ""
	}
	return p.Username
}

func (p *Params) includePermissions() bool {
	return p != nil && p.IncludePermissions
}
