// Package container renders annotation listings and collections as Web
// Annotation Protocol containers: an LDP BasicContainer envelope with paged
// AnnotationPage views.
package container

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
)

// LDPContext and AnnotationContext make up the JSON-LD context of every
// rendered container.
const (
	LDPContext        = "http://www.w3.org/ns/ldp.jsonld"
	AnnotationContext = "http://www.w3.org/ns/anno.jsonld"
)

// DefaultPageSize bounds the number of items per AnnotationPage.
const DefaultPageSize = 100

// View selects how much of the contained annotations a container response
// carries.
type View int

const (
	// ViewMinimalContainer lists only the container metadata with first and
	// last page references.
	ViewMinimalContainer View = iota
	// ViewContainedIRIs embeds the first page with item IRIs.
	ViewContainedIRIs
	// ViewContainedDescriptions embeds the first page with full annotation
	// bodies.
	ViewContainedDescriptions
)

const (
	preferMinimalContainer      = "PreferMinimalContainer"
	preferContainedIRIs         = "PreferContainedIRIs"
	preferContainedDescriptions = "PreferContainedDescriptions"
)

// ErrNoSuchPage reports a page number beyond the container's page count.
var ErrNoSuchPage = errors.New("container: no such page")

// ParseView maps a container preference name onto its view.
func ParseView(name string) (View, error) {
	switch name {
	case preferMinimalContainer:
		return ViewMinimalContainer, nil
	case preferContainedIRIs:
		return ViewContainedIRIs, nil
	case preferContainedDescriptions:
		return ViewContainedDescriptions, nil
	}
	return 0, fmt.Errorf("%s is not a valid container option. Value MUST be one of "+
		"PreferMinimalContainer, PreferContainedIRIs, PreferContainedDescriptions", name)
}

func (v View) String() string {
	switch v {
	case ViewContainedIRIs:
		return preferContainedIRIs
	case ViewContainedDescriptions:
		return preferContainedDescriptions
	default:
		return preferMinimalContainer
	}
}

// iris reports whether the view carries item IRIs instead of full bodies.
func (v View) iris() bool {
	return v != ViewContainedDescriptions
}

// Container is a paged view over a listing of annotations or over a stored
// collection's membership.
type Container struct {
	baseURL  string
	view     View
	pageSize int
	total    int64
	numPages int
	metadata map[string]any
	// items holds member IRIs (collection containers) or full annotation
	// envelopes (listing containers).
	items []any
}

// NewFromAnnotations builds a container over a page-independent annotation
// listing. The total may exceed the number of items handed in when the
// listing itself is windowed.
func NewFromAnnotations(baseURL string, annotations []map[string]any, total int64, pageSize int, view View) (*Container, error) {
	c, err := newContainer(baseURL, pageSize, view)
	if err != nil {
		return nil, err
	}
	for _, annotation := range annotations {
		c.items = append(c.items, annotation)
	}
	if total < int64(len(annotations)) {
		total = int64(len(annotations))
	}
	c.total = total
	c.numPages = pageCount(total, pageSize)
	c.metadata = map[string]any{
		"@context": []string{LDPContext, AnnotationContext},
		"id":       c.baseURL,
		"total":    total,
		"type":     []string{"BasicContainer", "AnnotationContainer"},
	}
	return c, nil
}

// NewFromCollection builds a container over a stored collection envelope as
// produced by the annotation store.
func NewFromCollection(baseURL string, collection map[string]any, pageSize int, view View) (*Container, error) {
	c, err := newContainer(baseURL, pageSize, view)
	if err != nil {
		return nil, err
	}
	items, ok := collection["items"].([]string)
	if !ok {
		for _, item := range asList(collection["items"]) {
			if memberID, okItem := item.(string); okItem {
				items = append(items, memberID)
			}
		}
	}
	for _, memberID := range items {
		c.items = append(c.items, memberID)
	}
	c.total = int64(len(items))
	c.numPages = pageCount(c.total, pageSize)
	c.metadata = map[string]any{
		"@context": []string{LDPContext, AnnotationContext},
		"id":       collection["id"],
		"creator":  collection["creator"],
		"created":  collection["created"],
		"label":    collection["label"],
		"total":    c.total,
		"type":     []any{"BasicContainer", collection["type"]},
	}
	if modified, okMod := collection["modified"]; okMod {
		c.metadata["modified"] = modified
	}
	return c, nil
}

func newContainer(baseURL string, pageSize int, view View) (*Container, error) {
	if pageSize < 1 {
		return nil, errors.New("page size must be a positive integer value")
	}
	c := &Container{
		view:     view,
		pageSize: pageSize,
	}
	var irisFlag string
	if view.iris() {
		irisFlag = "1"
	} else {
		irisFlag = "0"
	}
	c.baseURL = updateURL(baseURL, map[string]string{"iris": irisFlag})
	return c, nil
}

// Render produces the container representation for the selected view.
func (c *Container) Render() map[string]any {
	rendered := map[string]any{}
	for key, value := range c.metadata {
		rendered[key] = value
	}
	if c.total == 0 {
		return rendered
	}
	switch c.view {
	case ViewMinimalContainer:
		rendered["first"] = c.pageURL(0)
		rendered["last"] = c.pageURL(c.numPages - 1)
	default:
		first := map[string]any{
			"id":    c.pageURL(0),
			"type":  "AnnotationPage",
			"items": c.pageItems(0),
		}
		c.addPageRefs(first, 0)
		rendered["first"] = first
		rendered["last"] = c.pageURL(c.numPages - 1)
	}
	return rendered
}

// Page produces one AnnotationPage of the container.
func (c *Container) Page(page int) (map[string]any, error) {
	if page < 0 {
		return nil, errors.New("Parameter page must be non-negative integer")
	}
	if c.numPages > 0 && page >= c.numPages {
		return nil, ErrNoSuchPage
	}
	partOf := map[string]any{
		"id":    c.baseURL,
		"total": c.total,
	}
	if modified, ok := c.metadata["modified"]; ok {
		partOf["modified"] = modified
	}
	rendered := map[string]any{
		"@context":   AnnotationContext,
		"id":         c.pageURL(page),
		"type":       "AnnotationPage",
		"partOf":     partOf,
		"startIndex": c.pageSize * page,
		"items":      c.pageItems(page),
	}
	c.addPageRefs(rendered, page)
	return rendered, nil
}

func (c *Container) addPageRefs(rendered map[string]any, page int) {
	if page > 0 {
		rendered["prev"] = c.pageURL(page - 1)
	}
	if page < c.numPages-1 {
		rendered["next"] = c.pageURL(page + 1)
	}
}

func (c *Container) pageURL(page int) string {
	return updateURL(c.baseURL, map[string]string{"page": strconv.Itoa(page)})
}

func (c *Container) pageItems(page int) []any {
	start := page * c.pageSize
	if start >= len(c.items) {
		return []any{}
	}
	end := start + c.pageSize
	if end > len(c.items) {
		end = len(c.items)
	}
	window := c.items[start:end]
	if !c.view.iris() {
		return append([]any{}, window...)
	}
	iris := make([]any, 0, len(window))
	for _, item := range window {
		switch typed := item.(type) {
		case string:
			iris = append(iris, typed)
		case map[string]any:
			iris = append(iris, typed["id"])
		}
	}
	return iris
}

func pageCount(total int64, pageSize int) int {
	return int(math.Ceil(float64(total) / float64(pageSize)))
}

// updateURL merges query parameters into a URL, replacing existing values for
// the same keys.
func updateURL(rawURL string, params map[string]string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := parsed.Query()
	for key, value := range params {
		query.Set(key, value)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func asList(value any) []any {
	switch typed := value.(type) {
	case nil:
		return nil
	case []any:
		return typed
	default:
		return []any{typed}
	}
}
