package annotations

import (
	"slices"
	"time"
)

// Collection is the in-memory representation of one annotation collection:
// an ordered list of member annotation ids with a label and ownership
// metadata. The total is always derived from the items, never stored.
type Collection struct {
	id          string
	label       string
	creator     string
	created     string
	modified    string
	items       []string
	permissions *Permissions
}

// NewCollection builds a collection from a raw document, assigning id and
// created timestamp when missing and validating the shape.
func NewCollection(document map[string]any, now time.Time, ids IDProvider) (*Collection, error) {
	if err := Validate(document, TypeAnnotationCollection); err != nil {
		return nil, err
	}
	collection := &Collection{}

	id, ok := document["id"].(string)
	if !ok || id == "" {
		generated, err := ids.NewID()
		if err != nil {
			return nil, err
		}
		id = generated
	}
	collection.id = id
	collection.label = document["label"].(string)
	if creator, ok := document["creator"].(string); ok {
		collection.creator = creator
	}
	if created, ok := document["created"].(string); ok {
		collection.created = created
	} else {
		collection.created = now.UTC().Format(time.RFC3339)
	}
	if modified, ok := document["modified"].(string); ok {
		collection.modified = modified
	}
	for _, item := range asList(document["items"]) {
		if memberID, ok := item.(string); ok {
			collection.items = append(collection.items, memberID)
		}
	}

	perms, err := extractPermissionsValue(document["permissions"])
	if err != nil {
		return nil, err
	}
	collection.permissions = perms
	return collection, nil
}

// parseStoredCollection rebuilds a collection from its persisted JSON. The
// stored envelope carries a derived total without first/last page references,
// so the client-facing shape validation does not apply here.
func parseStoredCollection(document map[string]any) (*Collection, error) {
	id, ok := document["id"].(string)
	if !ok || id == "" {
		return nil, newValidationError("stored collection is missing its id")
	}
	label, ok := document["label"].(string)
	if !ok {
		return nil, newValidationError("stored collection is missing its label")
	}
	collection := &Collection{id: id, label: label}
	if creator, ok := document["creator"].(string); ok {
		collection.creator = creator
	}
	if created, ok := document["created"].(string); ok {
		collection.created = created
	}
	if modified, ok := document["modified"].(string); ok {
		collection.modified = modified
	}
	for _, item := range asList(document["items"]) {
		if memberID, ok := item.(string); ok {
			collection.items = append(collection.items, memberID)
		}
	}
	perms, err := extractPermissionsValue(document["permissions"])
	if err != nil {
		return nil, err
	}
	collection.permissions = perms
	return collection, nil
}

// ID returns the collection's stable identifier.
func (c *Collection) ID() string {
	return c.id
}

// Permissions returns the stored permission block.
func (c *Collection) Permissions() *Permissions {
	return c.permissions
}

// SetPermissions replaces the permission block.
func (c *Collection) SetPermissions(perms *Permissions) {
	c.permissions = perms
}

// Update replaces label and creator from the validated new document and
// stamps the modified timestamp. The membership list is not touched; it only
// changes through AddAnnotation and RemoveAnnotation.
func (c *Collection) Update(document map[string]any, now time.Time) error {
	if err := Validate(document, TypeAnnotationCollection); err != nil {
		return err
	}
	if id, ok := document["id"].(string); ok && id != c.id {
		return newConflictError("ID of updated collection does not match ID of existing collection")
	}
	c.label = document["label"].(string)
	if creator, ok := document["creator"].(string); ok {
		c.creator = creator
	}
	c.modified = now.UTC().Format(time.RFC3339)
	return nil
}

// AddAnnotation appends an annotation id to the membership. Adding an id
// that is already a member is a no-op reported as false.
func (c *Collection) AddAnnotation(annotationID string, now time.Time) bool {
	if slices.Contains(c.items, annotationID) {
		return false
	}
	c.items = append(c.items, annotationID)
	c.modified = now.UTC().Format(time.RFC3339)
	return true
}

// HasAnnotation reports membership of an annotation id.
func (c *Collection) HasAnnotation(annotationID string) bool {
	return slices.Contains(c.items, annotationID)
}

// RemoveAnnotation drops an annotation id from the membership, failing when
// the id is not a member.
func (c *Collection) RemoveAnnotation(annotationID string, now time.Time) error {
	index := slices.Index(c.items, annotationID)
	if index < 0 {
		return newNotFoundError("Annotation Collection does not contain annotation with id %s", annotationID)
	}
	c.items = slices.Delete(c.items, index, index+1)
	c.modified = now.UTC().Format(time.RFC3339)
	return nil
}

// Items returns the member annotation ids in order.
func (c *Collection) Items() []string {
	return slices.Clone(c.items)
}

// Size returns the number of members, always recomputed.
func (c *Collection) Size() int {
	return len(c.items)
}

// ToJSON returns the full stored representation including the permission
// block. Used for persistence only.
func (c *Collection) ToJSON() map[string]any {
	document := c.envelope()
	if c.permissions != nil {
		document[permissionsKey] = c.permissions
	}
	return document
}

// ToCleanJSON returns the client-facing representation, with the permission
// block only on explicit request.
func (c *Collection) ToCleanJSON(params *Params) map[string]any {
	document := c.envelope()
	if params.includePermissions() && c.permissions != nil {
		document[permissionsKey] = c.permissions
	}
	return document
}

func (c *Collection) envelope() map[string]any {
	items := c.items
	if items == nil {
		items = []string{}
	}
	document := map[string]any{
		"@context": AnnotationContext,
		"id":       c.id,
		"type":     TypeAnnotationCollection,
		"label":    c.label,
		"creator":  c.creator,
		"created":  c.created,
		"total":    c.Size(),
		"items":    items,
	}
	if c.modified != "" {
		document["modified"] = c.modified
	}
	return document
}

func extractPermissionsValue(raw any) (*Permissions, error) {
	if raw == nil {
		return nil, nil
	}
	perms := &Permissions{}
	if err := reencode(raw, perms); err != nil {
		return nil, newValidationError("collection has a malformed permissions block")
	}
	return perms, nil
}
