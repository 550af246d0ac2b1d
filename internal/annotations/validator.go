package annotations

import "net/url"

// AnnotationContext is the JSON-LD context every document must declare.
const AnnotationContext = "http://www.w3.org/ns/anno.jsonld"

const (
	// TypeAnnotation is the Web Annotation object type.
	TypeAnnotation = "Annotation"
	// TypeAnnotationPage is the paged listing object type.
	TypeAnnotationPage = "AnnotationPage"
	// TypeAnnotationCollection is the collection object type.
	TypeAnnotationCollection = "AnnotationCollection"
)

var acceptedTypes = []string{TypeAnnotation, TypeAnnotationCollection, TypeAnnotationPage}

// Validate checks a document against the Web Annotation data model. When
// expectedType is empty the type found in the document decides which rules
// apply. The first violation wins; there is no error accumulation.
func Validate(document map[string]any, expectedType string) error {
	if err := validateGeneric(document); err != nil {
		return err
	}
	return validateType(document, expectedType)
}

func validateGeneric(document map[string]any) error {
	if document == nil {
		return newValidationError("annotation MUST be valid JSON")
	}
	context, ok := document["@context"]
	if !ok {
		return newValidationError("annotation MUST have a @context")
	}
	if context != AnnotationContext {
		return newValidationError("annotation @context MUST include %q", AnnotationContext)
	}
	if _, ok := document["type"]; !ok {
		return newValidationError("annotation MUST have a type")
	}
	return nil
}

func validateType(document map[string]any, expectedType string) error {
	documentType, err := singleAcceptedType(document)
	if err != nil {
		return err
	}
	if expectedType == "" {
		expectedType = documentType
	}
	if !containsType(document["type"], expectedType) {
		return newValidationError("annotation is not of type %s", expectedType)
	}
	switch expectedType {
	case TypeAnnotation:
		return validateAnnotation(document)
	case TypeAnnotationPage:
		return validateAnnotationPage(document)
	case TypeAnnotationCollection:
		return validateAnnotationCollection(document)
	}
	return nil
}

// singleAcceptedType returns the one accepted type declared by the document.
// Zero or more than one accepted type is an error.
func singleAcceptedType(document map[string]any) (string, error) {
	var found []string
	for _, value := range asList(document["type"]) {
		name, ok := value.(string)
		if !ok {
			continue
		}
		for _, accepted := range acceptedTypes {
			if name == accepted {
				found = append(found, name)
			}
		}
	}
	if len(found) > 1 {
		return "", newValidationError("annotation cannot have multiple annotation types")
	}
	if len(found) == 0 {
		return "", newValidationError(`annotation type MUST be one of "Annotation", "AnnotationCollection", "AnnotationPage"`)
	}
	return found[0], nil
}

func validateAnnotation(document map[string]any) error {
	rawTarget, ok := document["target"]
	if !ok {
		return newValidationError("annotation MUST have at least one target")
	}
	for _, target := range asList(rawTarget) {
		var targetID string
		switch typed := target.(type) {
		case string:
			targetID = typed
		case map[string]any:
			if id, ok := typed["id"].(string); ok {
				targetID = id
			} else if source, ok := typed["source"].(string); ok {
				targetID = source
			}
		default:
			return newValidationError("External annotation target MUST have an IRI identifier")
		}
		if !isIRI(targetID) {
			return newValidationError("annotation target id MUST be an IRI")
		}
	}
	return nil
}

func validateAnnotationPage(document map[string]any) error {
	rawItems, ok := document["items"]
	if !ok {
		return newValidationError(`annotation page MUST have an "items" property with as value a list with at least one annotation`)
	}
	items, ok := rawItems.([]any)
	if !ok || len(items) == 0 {
		return newValidationError(`annotation page "items" property MUST be a list with at least one annotation`)
	}
	return nil
}

func validateAnnotationCollection(document map[string]any) error {
	label, ok := document["label"]
	if !ok {
		return newValidationError(`annotation collection MUST have a "label" property with as value a string`)
	}
	if _, ok := label.(string); !ok {
		return newValidationError(`annotation collection "label" property MUST be a string`)
	}
	if _, ok := document["total"]; ok {
		if _, ok := document["first"]; !ok {
			return newValidationError(`Non-empty collection MUST have "first" property referencing the first AnnotationPage`)
		}
		if _, ok := document["last"]; !ok {
			return newValidationError(`Non-empty collection MUST have "last" property referencing the last AnnotationPage`)
		}
	}
	return nil
}

func containsType(rawType any, name string) bool {
	for _, value := range asList(rawType) {
		if typed, ok := value.(string); ok && typed == name {
			return true
		}
	}
	return false
}

// isIRI accepts any absolute IRI, including urn: identifiers.
func isIRI(value string) bool {
	if value == "" {
		return false
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return false
	}
	return parsed.Scheme != ""
}

func asList(value any) []any {
	if value == nil {
		return nil
	}
	switch list := value.(type) {
	case []any:
		return list
	case []string:
		// In-memory envelopes carry string slices; persisted JSON always
		// decodes to []any.
		generic := make([]any, len(list))
		for position, element := range list {
			generic[position] = element
		}
		return generic
	}
	return []any{value}
}
