package annotations

import (
	"encoding/json"
	"maps"
	"time"
)

// Bookkeeping fields stored with a document but stripped from client
// responses.
const (
	permissionsKey = "permissions"
	targetListKey  = "target_list"
)

// TargetDescriptor is one entry of the denormalized target list: the id of a
// targeted resource or annotation, with its type when known.
type TargetDescriptor struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// Annotation is the in-memory representation of one stored annotation. The
// client-visible envelope is kept apart from the permission block and the
// resolved target list, which are persistence-only bookkeeping.
type Annotation struct {
	id          string
	data        map[string]any
	permissions *Permissions
	targetList  []TargetDescriptor
}

// NewAnnotation builds an annotation from a raw document, assigning an id
// and created timestamp when missing and validating the result. Permission
// and target-list fields present in the document (stored form) are pulled
// out of the envelope.
func NewAnnotation(document map[string]any, now time.Time, ids IDProvider) (*Annotation, error) {
	if document == nil {
		return nil, newValidationError("annotation MUST be valid JSON")
	}
	data := maps.Clone(document)
	if _, ok := data["id"]; !ok {
		id, err := ids.NewID()
		if err != nil {
			return nil, err
		}
		data["id"] = id
	}
	if _, ok := data["created"]; !ok {
		data["created"] = now.UTC().Format(time.RFC3339)
	}

	permissions, err := extractPermissions(data)
	if err != nil {
		return nil, err
	}
	targetList, err := extractTargetList(data)
	if err != nil {
		return nil, err
	}

	if err := Validate(data, TypeAnnotation); err != nil {
		return nil, err
	}
	id, ok := data["id"].(string)
	if !ok {
		return nil, newValidationError("annotation id MUST be a string")
	}
	return &Annotation{
		id:          id,
		data:        data,
		permissions: permissions,
		targetList:  targetList,
	}, nil
}

// ID returns the annotation's stable identifier.
func (a *Annotation) ID() string {
	return a.id
}

// Permissions returns the stored permission block, nil for a fresh
// client-supplied document.
func (a *Annotation) Permissions() *Permissions {
	return a.permissions
}

// SetPermissions replaces the permission block.
func (a *Annotation) SetPermissions(perms *Permissions) {
	a.permissions = perms
}

// TargetList returns the denormalized transitive target list.
func (a *Annotation) TargetList() []TargetDescriptor {
	return a.targetList
}

// SetTargetList replaces the denormalized target list.
func (a *Annotation) SetTargetList(targets []TargetDescriptor) {
	a.targetList = targets
}

// RawTargets returns the direct target entries, normalized to a list.
func (a *Annotation) RawTargets() []any {
	return asList(a.data["target"])
}

// TargetIDs returns the identifier of every direct target.
func (a *Annotation) TargetIDs() []string {
	var ids []string
	for _, target := range a.RawTargets() {
		switch typed := target.(type) {
		case string:
			ids = append(ids, typed)
		case map[string]any:
			if id, ok := typed["id"].(string); ok {
				ids = append(ids, id)
			} else if source, ok := typed["source"].(string); ok {
				ids = append(ids, source)
			}
		}
	}
	return ids
}

// Update replaces the annotation wholesale with the validated new document
// and stamps the modified timestamp. The new document must carry the same
// id. Bookkeeping fields in the incoming document are discarded; the stored
// permission block and target list are recomputed by the store.
func (a *Annotation) Update(document map[string]any, now time.Time) error {
	data := maps.Clone(document)
	delete(data, permissionsKey)
	delete(data, targetListKey)
	if err := Validate(data, TypeAnnotation); err != nil {
		return err
	}
	if data["id"] != a.id {
		return newConflictError("ID of updated annotation does not match ID of existing annotation")
	}
	data["modified"] = now.UTC().Format(time.RFC3339)
	a.data = data
	return nil
}

// ToJSON returns the full stored representation, bookkeeping included. Used
// for persistence only.
func (a *Annotation) ToJSON() map[string]any {
	document := maps.Clone(a.data)
	if a.permissions != nil {
		document[permissionsKey] = a.permissions
	}
	if a.targetList != nil {
		document[targetListKey] = a.targetList
	}
	return document
}

// ToCleanJSON returns the client-facing representation: the target list is
// always stripped and the permission block only included on explicit
// request.
func (a *Annotation) ToCleanJSON(params *Params) map[string]any {
	document := maps.Clone(a.data)
	if params.includePermissions() && a.permissions != nil {
		document[permissionsKey] = a.permissions
	}
	return document
}

func extractPermissions(data map[string]any) (*Permissions, error) {
	raw, ok := data[permissionsKey]
	if !ok {
		return nil, nil
	}
	delete(data, permissionsKey)
	perms := &Permissions{}
	if err := reencode(raw, perms); err != nil {
		return nil, newValidationError("annotation has a malformed permissions block")
	}
	return perms, nil
}

func extractTargetList(data map[string]any) ([]TargetDescriptor, error) {
	raw, ok := data[targetListKey]
	if !ok {
		return nil, nil
	}
	delete(data, targetListKey)
	var targets []TargetDescriptor
	if err := reencode(raw, &targets); err != nil {
		return nil, newValidationError("annotation has a malformed target list")
	}
	return targets, nil
}

// reencode converts loosely typed JSON values into their typed counterparts.
func reencode(from, to any) error {
	encoded, err := json.Marshal(from)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, to)
}
