package annotations

import (
	"context"
	"errors"

	"github.com/PergamonResearchLab/annoserv/internal/index"
)

// Selector types that expand a single target into a chain or list of
// sub-resource descriptors.
const (
	selectorSubresource = "SubresourceSelector"
	selectorNestedPID   = "NestedPIDSelector"
)

// directTargetDescriptors normalizes an annotation's direct target entries
// into flat descriptors. Targets described via source + selector expand
// their nested selector structure into one descriptor per referenced
// resource.
func directTargetDescriptors(anno *Annotation) []TargetDescriptor {
	var descriptors []TargetDescriptor
	for _, target := range anno.RawTargets() {
		switch typed := target.(type) {
		case string:
			descriptors = append(descriptors, TargetDescriptor{ID: typed})
		case map[string]any:
			descriptors = append(descriptors, targetDescriptors(typed)...)
		}
	}
	return descriptors
}

func targetDescriptors(target map[string]any) []TargetDescriptor {
	descriptor := TargetDescriptor{}
	if id, ok := target["id"].(string); ok {
		descriptor.ID = id
	} else if source, ok := target["source"].(string); ok {
		descriptor.ID = source
	}
	if targetType, ok := target["type"].(string); ok {
		descriptor.Type = targetType
	}
	descriptors := []TargetDescriptor{descriptor}
	for _, selector := range asList(target["selector"]) {
		selectorMap, ok := selector.(map[string]any)
		if !ok {
			continue
		}
		descriptors = append(descriptors, selectorDescriptors(selectorMap)...)
	}
	return descriptors
}

func selectorDescriptors(selector map[string]any) []TargetDescriptor {
	switch selector["type"] {
	case selectorSubresource:
		value, ok := selector["value"].(map[string]any)
		if !ok {
			return nil
		}
		return subresourceChain(value)
	case selectorNestedPID:
		var descriptors []TargetDescriptor
		for _, resource := range asList(selector["value"]) {
			resourceMap, ok := resource.(map[string]any)
			if !ok {
				continue
			}
			descriptors = append(descriptors, resourceDescriptor(resourceMap))
		}
		return descriptors
	}
	return nil
}

// subresourceChain unwraps a nested subresource structure into one
// descriptor per nesting level.
func subresourceChain(resource map[string]any) []TargetDescriptor {
	descriptors := []TargetDescriptor{resourceDescriptor(resource)}
	if nested, ok := resource["subresource"].(map[string]any); ok {
		descriptors = append(descriptors, subresourceChain(nested)...)
	}
	return descriptors
}

func resourceDescriptor(resource map[string]any) TargetDescriptor {
	descriptor := TargetDescriptor{}
	if id, ok := resource["id"].(string); ok {
		descriptor.ID = id
	}
	if resourceType, ok := resource["type"].(string); ok {
		descriptor.Type = resourceType
	}
	return descriptor
}

// resolveTargetList computes the fully transitive target list of an
// annotation: its direct targets plus, for every target that is itself an
// annotation, whatever that annotation targets in turn.
func (s *Store) resolveTargetList(ctx context.Context, anno *Annotation) ([]TargetDescriptor, error) {
	visited := map[string]bool{anno.ID(): true}
	return s.expandTargets(ctx, anno, visited)
}

func (s *Store) expandTargets(ctx context.Context, anno *Annotation, visited map[string]bool) ([]TargetDescriptor, error) {
	var resolved []TargetDescriptor
	seen := map[string]bool{}
	merge := func(descriptors ...TargetDescriptor) {
		for _, descriptor := range descriptors {
			if descriptor.ID == "" || seen[descriptor.ID] {
				continue
			}
			seen[descriptor.ID] = true
			resolved = append(resolved, descriptor)
		}
	}

	for _, descriptor := range directTargetDescriptors(anno) {
		if descriptor.Type != TypeAnnotation {
			merge(descriptor)
			continue
		}
		if descriptor.ID == anno.ID() {
			return nil, newConflictError("Annotation cannot target itself")
		}
		if visited[descriptor.ID] {
			// Multi-hop cycle: keep the reference but stop expanding.
			merge(descriptor)
			continue
		}
		document, err := s.index.Get(ctx, descriptor.ID)
		if errors.Is(err, index.ErrNotFound) {
			// Unknown annotation id, possibly hosted elsewhere. Dead end.
			merge(descriptor)
			continue
		}
		if err != nil {
			return nil, err
		}
		if document.Deleted {
			// Tombstoned targets disappear from the resolved list.
			continue
		}
		if document.DocType != index.DocTypeAnnotation {
			merge(descriptor)
			continue
		}
		target, err := s.parseStoredAnnotation(document)
		if err != nil {
			return nil, err
		}
		merge(descriptor)
		visited[descriptor.ID] = true
		transitive, err := s.expandTargets(ctx, target, visited)
		if err != nil {
			return nil, err
		}
		merge(transitive...)
	}
	return resolved, nil
}
