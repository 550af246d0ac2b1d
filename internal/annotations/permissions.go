package annotations

import "slices"

const (
	// StatusPrivate objects are visible to their owner only.
	StatusPrivate = "private"
	// StatusShared objects are visible to the owner and the can_see list.
	StatusShared = "shared"
	// StatusPublic objects are visible to everyone, anonymous included.
	StatusPublic = "public"
)

// AccessStatuses lists the accepted access_status values.
var AccessStatuses = []string{StatusPrivate, StatusShared, StatusPublic}

// Permissions is the access-control block stored alongside every annotation
// and collection. access_status is a list on the wire, matching the original
// index mapping.
type Permissions struct {
	AccessStatus []string `json:"access_status"`
	Owner        string   `json:"owner"`
	CanSee       []string `json:"can_see,omitempty"`
	CanEdit      []string `json:"can_edit,omitempty"`
}

// IsPrivate reports whether the block carries the private status.
func (p *Permissions) IsPrivate() bool {
	return slices.Contains(p.AccessStatus, StatusPrivate)
}

// IsShared reports whether the block carries the shared status.
func (p *Permissions) IsShared() bool {
	return slices.Contains(p.AccessStatus, StatusShared)
}

// IsPublic reports whether the block carries the public status.
func (p *Permissions) IsPublic() bool {
	return slices.Contains(p.AccessStatus, StatusPublic)
}

// IsOwnedBy reports whether username owns the object.
func (p *Permissions) IsOwnedBy(username string) bool {
	return p.Owner == username
}

func (p *Permissions) seeSharedWith(username string) bool {
	return p.IsShared() && slices.Contains(p.CanSee, username)
}

func (p *Permissions) editSharedWith(username string) bool {
	return p.IsShared() && slices.Contains(p.CanEdit, username)
}

func (p *Permissions) clone() *Permissions {
	if p == nil {
		return nil
	}
	return &Permissions{
		AccessStatus: slices.Clone(p.AccessStatus),
		Owner:        p.Owner,
		CanSee:       slices.Clone(p.CanSee),
		CanEdit:      slices.Clone(p.CanEdit),
	}
}

// IsAllowed decides whether a principal may perform an action on an object
// carrying the given permission block. An empty username is anonymous.
func IsAllowed(username string, action Action, perms *Permissions) bool {
	// Chain traversal only maintains denormalized state and never exposes
	// data to a caller, so it bypasses access control.
	if action == ActionTraverse {
		return true
	}
	switch action {
	case ActionSee:
		return isAllowedToSee(username, perms)
	case ActionEdit:
		return isAllowedToEdit(username, perms)
	default:
		return false
	}
}

func isAllowedToSee(username string, perms *Permissions) bool {
	if username == "" {
		return perms.IsPublic()
	}
	if perms.IsPublic() {
		return true
	}
	if perms.IsOwnedBy(username) {
		return true
	}
	return perms.seeSharedWith(username)
}

func isAllowedToEdit(username string, perms *Permissions) bool {
	if username == "" {
		return false
	}
	// Public objects are world-readable but only the owner may change them.
	if perms.IsPublic() && !perms.IsOwnedBy(username) {
		return false
	}
	if perms.IsOwnedBy(username) {
		return true
	}
	return perms.editSharedWith(username)
}

// ComputePermissions builds the permission block for an object being created
// (existing == nil) or updated. Traverse updates leave the stored block
// untouched; the owner is never changed after creation.
func ComputePermissions(existing *Permissions, params *Params, action Action) (*Permissions, error) {
	if existing == nil {
		perms, err := newObjectPermissions(params)
		if err != nil {
			return nil, err
		}
		return applySharePermissions(perms, params)
	}

	perms := existing.clone()
	if action == ActionTraverse {
		return perms, nil
	}
	if params == nil {
		return perms, nil
	}
	if params.AccessStatus != nil {
		perms.AccessStatus = slices.Clone(params.AccessStatus)
	}
	return applySharePermissions(perms, params)
}

func newObjectPermissions(params *Params) (*Permissions, error) {
	if params == nil {
		return nil, newValidationError("new annotations need permission parameters")
	}
	if params.Username == "" {
		return nil, newPermissionError("Cannot add annotation as unknown user")
	}
	status := params.AccessStatus
	if len(status) == 0 {
		status = []string{StatusPrivate}
	}
	return &Permissions{
		AccessStatus: slices.Clone(status),
		Owner:        params.Username,
	}, nil
}

func applySharePermissions(perms *Permissions, params *Params) (*Permissions, error) {
	if !perms.IsShared() {
		// Private and public objects carry no share details.
		perms.CanSee = nil
		perms.CanEdit = nil
		return perms, nil
	}
	if params == nil {
		return perms, nil
	}
	if params.CanSee != nil {
		perms.CanSee = slices.Clone(params.CanSee)
	}
	if params.CanEdit != nil {
		perms.CanEdit = slices.Clone(params.CanEdit)
		// Everyone who can edit must also be able to see.
		for _, username := range perms.CanEdit {
			if !slices.Contains(perms.CanSee, username) {
				perms.CanSee = append(perms.CanSee, username)
			}
		}
	}
	return perms, nil
}
