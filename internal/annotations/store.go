package annotations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/PergamonResearchLab/annoserv/internal/index"
)

var (
	errMissingIndex      = errors.New("annotations: document index is required")
	errMissingIDProvider = errors.New("annotations: id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opAddAnnotation    = "annotations.add"
	opGetAnnotation    = "annotations.get"
	opUpdateAnnotation = "annotations.update"
	opRemoveAnnotation = "annotations.remove"
	opListAnnotations  = "annotations.list"
	opPropagateChain   = "annotations.propagate"
	opCollection       = "annotations.collection"
)

// pageSize is the window used for listings and chain-propagation searches.
const pageSize = 100

// StoreConfig describes the dependencies of the annotation store.
type StoreConfig struct {
	Index      *index.Index
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store is the orchestrator behind every annotation and collection
// operation: it validates documents, enforces permissions, maintains the
// denormalized target lists and propagates changes along the target chain.
type Store struct {
	index  *index.Index
	clock  func() time.Time
	ids    IDProvider
	logger *zap.Logger

	// needsRefresh is set after any mutation and consulted before filtered
	// searches, so listings never run against an unflushed index. Atomic:
	// handlers mutate and list concurrently.
	needsRefresh atomic.Bool
}

// NewStore constructs the annotation store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Index == nil {
		return nil, errMissingIndex
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		index:  cfg.Index,
		clock:  clock,
		ids:    cfg.IDProvider,
		logger: logger,
	}, nil
}

// AddAnnotation validates and stores a new annotation, computing its
// permission block and resolved target list. The clean client-facing JSON is
// returned.
func (s *Store) AddAnnotation(ctx context.Context, document map[string]any, params *Params) (map[string]any, error) {
	anno, err := NewAnnotation(document, s.clock(), s.ids)
	if err != nil {
		return nil, err
	}
	if err := s.checkIDAvailable(ctx, anno.ID(), index.DocTypeAnnotation); err != nil {
		return nil, err
	}

	perms, err := ComputePermissions(nil, params, ActionEdit)
	if err != nil {
		return nil, err
	}
	anno.SetPermissions(perms)

	targets, err := s.resolveTargetList(ctx, anno)
	if err != nil {
		return nil, err
	}
	anno.SetTargetList(targets)

	if err := s.putAnnotation(ctx, anno); err != nil {
		s.logError(opAddAnnotation, err, zap.String("annotation_id", anno.ID()))
		return nil, err
	}
	return anno.ToCleanJSON(params), nil
}

// AddAnnotations stores several annotations in one call, stopping at the
// first failure.
func (s *Store) AddAnnotations(ctx context.Context, documents []map[string]any, params *Params) ([]map[string]any, error) {
	added := make([]map[string]any, 0, len(documents))
	for _, document := range documents {
		annotation, err := s.AddAnnotation(ctx, document, params)
		if err != nil {
			return nil, err
		}
		added = append(added, annotation)
	}
	return added, nil
}

// GetAnnotation fetches one annotation, enforcing see permission. Permission
// denials are reported distinctly from missing annotations so the boundary
// can choose between 403 and 404.
func (s *Store) GetAnnotation(ctx context.Context, annotationID string, params *Params) (map[string]any, error) {
	anno, err := s.loadAnnotation(ctx, annotationID)
	if err != nil {
		return nil, err
	}
	if !IsAllowed(params.username(), ActionSee, anno.Permissions()) {
		return nil, newPermissionError("no permission to see annotation %s", annotationID)
	}
	return anno.ToCleanJSON(params), nil
}

// UpdateAnnotation replaces an annotation wholesale, recomputes its
// permission block and target list, and refreshes every annotation that
// transitively targets it when the target list changed.
func (s *Store) UpdateAnnotation(ctx context.Context, document map[string]any, params *Params) (map[string]any, error) {
	return s.updateAnnotation(ctx, document, params, ActionEdit, map[string]bool{})
}

func (s *Store) updateAnnotation(ctx context.Context, document map[string]any, params *Params, action Action, visited map[string]bool) (map[string]any, error) {
	annotationID, ok := document["id"].(string)
	if !ok || annotationID == "" {
		return nil, newValidationError("updated annotation MUST have an id")
	}
	anno, err := s.loadAnnotation(ctx, annotationID)
	if err != nil {
		return nil, err
	}
	if !IsAllowed(params.username(), action, anno.Permissions()) {
		return nil, newPermissionError("no permission to edit annotation %s", annotationID)
	}

	before := targetIDSet(anno.TargetList())
	if err := anno.Update(document, s.clock()); err != nil {
		return nil, err
	}

	perms, err := ComputePermissions(anno.Permissions(), params, action)
	if err != nil {
		return nil, err
	}
	anno.SetPermissions(perms)

	targets, err := s.resolveTargetList(ctx, anno)
	if err != nil {
		return nil, err
	}
	anno.SetTargetList(targets)

	if err := s.putAnnotation(ctx, anno); err != nil {
		s.logError(opUpdateAnnotation, err, zap.String("annotation_id", annotationID))
		return nil, err
	}

	if !sameIDSet(before, targetIDSet(targets)) {
		visited[annotationID] = true
		if err := s.propagateChain(ctx, annotationID, visited); err != nil {
			return nil, err
		}
	}
	return anno.ToCleanJSON(params), nil
}

// RemoveAnnotation tombstones an annotation and refreshes its dependents,
// which must now treat it as a dead end.
func (s *Store) RemoveAnnotation(ctx context.Context, annotationID string, params *Params) (map[string]any, error) {
	anno, err := s.loadAnnotation(ctx, annotationID)
	if err != nil {
		return nil, err
	}
	if !IsAllowed(params.username(), ActionEdit, anno.Permissions()) {
		return nil, newPermissionError("no permission to edit annotation %s", annotationID)
	}

	tombstone := map[string]any{
		"id":     annotationID,
		"type":   TypeAnnotation,
		"status": "deleted",
	}
	if err := s.putTombstone(ctx, annotationID, index.DocTypeAnnotation, tombstone); err != nil {
		s.logError(opRemoveAnnotation, err, zap.String("annotation_id", annotationID))
		return nil, err
	}

	visited := map[string]bool{annotationID: true}
	if err := s.propagateChain(ctx, annotationID, visited); err != nil {
		return nil, err
	}
	return tombstone, nil
}

// propagateChain re-runs the update procedure, at traverse privilege, for
// every annotation whose denormalized target list references the changed id.
// Propagation is synchronous and depth-first: the triggering operation does
// not return until the whole chain has been refreshed.
func (s *Store) propagateChain(ctx context.Context, changedID string, visited map[string]bool) error {
	dependents, err := s.collectDependents(ctx, changedID)
	if err != nil {
		s.logError(opPropagateChain, err, zap.String("changed_id", changedID))
		return err
	}
	for _, document := range dependents {
		if visited[document.ID] {
			continue
		}
		visited[document.ID] = true
		dependent, err := s.parseStoredAnnotation(document)
		if err != nil {
			return err
		}
		if _, err := s.updateAnnotation(ctx, dependent.ToCleanJSON(nil), nil, ActionTraverse, visited); err != nil {
			s.logError(opPropagateChain, err,
				zap.String("changed_id", changedID),
				zap.String("dependent_id", document.ID))
			return err
		}
	}
	return nil
}

func (s *Store) collectDependents(ctx context.Context, changedID string) ([]index.Document, error) {
	if err := s.refreshIfNeeded(ctx); err != nil {
		return nil, err
	}
	query := index.Match{Field: index.FieldTargetID, Value: changedID}
	var dependents []index.Document
	for from := 0; ; from += pageSize {
		total, page, err := s.index.Search(ctx, index.DocTypeAnnotation, query, from, pageSize)
		if err != nil {
			return nil, err
		}
		dependents = append(dependents, page...)
		if int64(from+pageSize) >= total {
			return dependents, nil
		}
	}
}

// GetAnnotations lists annotations visible to the principal, optionally
// filtered by target id or type, one page at a time.
func (s *Store) GetAnnotations(ctx context.Context, params *Params) (int64, []map[string]any, error) {
	if err := s.refreshIfNeeded(ctx); err != nil {
		return 0, nil, err
	}
	visibility := buildSeeQuery(params)
	if params != nil && params.EditableOnly {
		if params.Username == "" {
			// Anonymous principals can edit nothing.
			return 0, []map[string]any{}, nil
		}
		visibility = buildEditQuery(params)
	}
	clauses := append([]index.Query{visibility}, buildFilterQueries(params)...)
	query := index.BoolMust(clauses...)

	from := 0
	if params != nil && params.Page > 0 {
		from = params.Page * pageSize
	}
	total, documents, err := s.index.Search(ctx, index.DocTypeAnnotation, query, from, pageSize)
	if err != nil {
		s.logError(opListAnnotations, err)
		return 0, nil, err
	}
	annotations := make([]map[string]any, 0, len(documents))
	for _, document := range documents {
		anno, err := s.parseStoredAnnotation(document)
		if err != nil {
			return 0, nil, err
		}
		annotations = append(annotations, anno.ToCleanJSON(params))
	}
	return total, annotations, nil
}

// GetAnnotationsByTarget lists visible annotations that (transitively)
// target the given id.
func (s *Store) GetAnnotationsByTarget(ctx context.Context, targetID string, params *Params) (int64, []map[string]any, error) {
	scoped := &Params{}
	if params != nil {
		scoped = &Params{
			Username:           params.Username,
			AccessStatus:       params.AccessStatus,
			IncludePermissions: params.IncludePermissions,
			EditableOnly:       params.EditableOnly,
			Page:               params.Page,
		}
	}
	scoped.Filter = &Filter{TargetID: targetID}
	return s.GetAnnotations(ctx, scoped)
}

// GetAnnotationsByID fetches the given annotations, silently skipping ids
// the principal may not see or that no longer exist.
func (s *Store) GetAnnotationsByID(ctx context.Context, annotationIDs []string, params *Params) ([]map[string]any, error) {
	annotations := make([]map[string]any, 0, len(annotationIDs))
	for _, annotationID := range annotationIDs {
		annotation, err := s.GetAnnotation(ctx, annotationID, params)
		if err != nil {
			var storeErr *Error
			if errors.As(err, &storeErr) && (storeErr.Kind() == KindPermission || storeErr.Kind() == KindNotFound) {
				continue
			}
			return nil, err
		}
		annotations = append(annotations, annotation)
	}
	return annotations, nil
}

// CreateCollection validates and stores a new annotation collection.
func (s *Store) CreateCollection(ctx context.Context, document map[string]any, params *Params) (map[string]any, error) {
	collection, err := NewCollection(document, s.clock(), s.ids)
	if err != nil {
		return nil, err
	}
	if err := s.checkIDAvailable(ctx, collection.ID(), index.DocTypeCollection); err != nil {
		return nil, err
	}
	perms, err := ComputePermissions(nil, params, ActionEdit)
	if err != nil {
		return nil, err
	}
	collection.SetPermissions(perms)
	if err := s.putCollection(ctx, collection); err != nil {
		s.logError(opCollection, err, zap.String("collection_id", collection.ID()))
		return nil, err
	}
	return collection.ToCleanJSON(params), nil
}

// GetCollection fetches one collection, enforcing see permission.
func (s *Store) GetCollection(ctx context.Context, collectionID string, params *Params) (map[string]any, error) {
	collection, err := s.loadCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if !IsAllowed(params.username(), ActionSee, collection.Permissions()) {
		return nil, newPermissionError("no permission to see collection %s", collectionID)
	}
	return collection.ToCleanJSON(params), nil
}

// GetCollections lists collections visible to the principal.
func (s *Store) GetCollections(ctx context.Context, params *Params) (int64, []map[string]any, error) {
	if err := s.refreshIfNeeded(ctx); err != nil {
		return 0, nil, err
	}
	visibility := buildSeeQuery(params)
	if params != nil && params.EditableOnly {
		if params.Username == "" {
			return 0, []map[string]any{}, nil
		}
		visibility = buildEditQuery(params)
	}
	from := 0
	if params != nil && params.Page > 0 {
		from = params.Page * pageSize
	}
	total, documents, err := s.index.Search(ctx, index.DocTypeCollection, visibility, from, pageSize)
	if err != nil {
		s.logError(opCollection, err)
		return 0, nil, err
	}
	collections := make([]map[string]any, 0, len(documents))
	for _, document := range documents {
		collection, err := s.parseStoredCollectionDocument(document)
		if err != nil {
			return 0, nil, err
		}
		collections = append(collections, collection.ToCleanJSON(params))
	}
	return total, collections, nil
}

// UpdateCollection replaces a collection's metadata, keeping its membership.
func (s *Store) UpdateCollection(ctx context.Context, document map[string]any, params *Params) (map[string]any, error) {
	collectionID, ok := document["id"].(string)
	if !ok || collectionID == "" {
		return nil, newValidationError("updated collection MUST have an id")
	}
	collection, err := s.loadCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if !IsAllowed(params.username(), ActionEdit, collection.Permissions()) {
		return nil, newPermissionError("no permission to edit collection %s", collectionID)
	}
	if err := collection.Update(document, s.clock()); err != nil {
		return nil, err
	}
	perms, err := ComputePermissions(collection.Permissions(), params, ActionEdit)
	if err != nil {
		return nil, err
	}
	collection.SetPermissions(perms)
	if err := s.putCollection(ctx, collection); err != nil {
		s.logError(opCollection, err, zap.String("collection_id", collectionID))
		return nil, err
	}
	return collection.ToCleanJSON(params), nil
}

// RemoveCollection tombstones a collection. Member annotations are not
// touched; membership does not participate in the target chain.
func (s *Store) RemoveCollection(ctx context.Context, collectionID string, params *Params) (map[string]any, error) {
	collection, err := s.loadCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if !IsAllowed(params.username(), ActionEdit, collection.Permissions()) {
		return nil, newPermissionError("no permission to edit collection %s", collectionID)
	}
	tombstone := map[string]any{
		"id":     collectionID,
		"type":   TypeAnnotationCollection,
		"status": "deleted",
	}
	if err := s.putTombstone(ctx, collectionID, index.DocTypeCollection, tombstone); err != nil {
		s.logError(opCollection, err, zap.String("collection_id", collectionID))
		return nil, err
	}
	return tombstone, nil
}

// AddAnnotationToCollection adds an existing annotation to a collection. The
// principal needs edit permission on the collection and see permission on
// the annotation. Adding a member twice is a no-op.
func (s *Store) AddAnnotationToCollection(ctx context.Context, annotationID, collectionID string, params *Params) (map[string]any, error) {
	collection, err := s.loadCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if !IsAllowed(params.username(), ActionEdit, collection.Permissions()) {
		return nil, newPermissionError("no permission to edit collection %s", collectionID)
	}
	anno, err := s.loadAnnotation(ctx, annotationID)
	if err != nil {
		return nil, err
	}
	if !IsAllowed(params.username(), ActionSee, anno.Permissions()) {
		return nil, newPermissionError("no permission to see annotation %s", annotationID)
	}
	if collection.AddAnnotation(annotationID, s.clock()) {
		if err := s.putCollection(ctx, collection); err != nil {
			s.logError(opCollection, err, zap.String("collection_id", collectionID))
			return nil, err
		}
	}
	return collection.ToCleanJSON(params), nil
}

// RemoveAnnotationFromCollection removes an annotation from a collection's
// membership, failing when it is not a member.
func (s *Store) RemoveAnnotationFromCollection(ctx context.Context, annotationID, collectionID string, params *Params) (map[string]any, error) {
	collection, err := s.loadCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if !IsAllowed(params.username(), ActionEdit, collection.Permissions()) {
		return nil, newPermissionError("no permission to edit collection %s", collectionID)
	}
	if err := collection.RemoveAnnotation(annotationID, s.clock()); err != nil {
		return nil, err
	}
	if err := s.putCollection(ctx, collection); err != nil {
		s.logError(opCollection, err, zap.String("collection_id", collectionID))
		return nil, err
	}
	return collection.ToCleanJSON(params), nil
}

func (s *Store) loadAnnotation(ctx context.Context, annotationID string) (*Annotation, error) {
	document, err := s.index.Get(ctx, annotationID)
	if errors.Is(err, index.ErrNotFound) {
		return nil, newNotFoundError("There is no annotation with ID %s", annotationID)
	}
	if err != nil {
		s.logError(opGetAnnotation, err, zap.String("annotation_id", annotationID))
		return nil, err
	}
	if document.Deleted || document.DocType != index.DocTypeAnnotation {
		return nil, newNotFoundError("There is no annotation with ID %s", annotationID)
	}
	return s.parseStoredAnnotation(document)
}

func (s *Store) parseStoredAnnotation(document index.Document) (*Annotation, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(document.Body), &data); err != nil {
		return nil, fmt.Errorf("annotations: stored annotation %s is unreadable: %w", document.ID, err)
	}
	anno, err := NewAnnotation(data, s.clock(), s.ids)
	if err != nil {
		return nil, err
	}
	if anno.Permissions() == nil {
		// A stored object without a permission block would be invisible or
		// world-readable by accident. Never default it.
		return nil, newValidationError("stored annotation %s is missing its permission block", document.ID)
	}
	return anno, nil
}

func (s *Store) loadCollection(ctx context.Context, collectionID string) (*Collection, error) {
	document, err := s.index.Get(ctx, collectionID)
	if errors.Is(err, index.ErrNotFound) {
		return nil, newNotFoundError("There is no collection with ID %s", collectionID)
	}
	if err != nil {
		s.logError(opCollection, err, zap.String("collection_id", collectionID))
		return nil, err
	}
	if document.Deleted || document.DocType != index.DocTypeCollection {
		return nil, newNotFoundError("There is no collection with ID %s", collectionID)
	}
	return s.parseStoredCollectionDocument(document)
}

func (s *Store) parseStoredCollectionDocument(document index.Document) (*Collection, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(document.Body), &data); err != nil {
		return nil, fmt.Errorf("annotations: stored collection %s is unreadable: %w", document.ID, err)
	}
	collection, err := parseStoredCollection(data)
	if err != nil {
		return nil, err
	}
	if collection.Permissions() == nil {
		return nil, newValidationError("stored collection %s is missing its permission block", document.ID)
	}
	return collection, nil
}

// checkIDAvailable guards creation against duplicate ids and against
// resurrecting a tombstoned id, possibly under another document type.
func (s *Store) checkIDAvailable(ctx context.Context, id, docType string) error {
	existing, err := s.index.Get(ctx, id)
	if errors.Is(err, index.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.DocType != docType {
		return newConflictError("ID %s is already in use by a different document type", id)
	}
	if docType == index.DocTypeCollection {
		return newConflictError("There is already a collection with ID %s", id)
	}
	return newConflictError("There is already an annotation with ID %s", id)
}

func (s *Store) putAnnotation(ctx context.Context, anno *Annotation) error {
	body, err := json.Marshal(anno.ToJSON())
	if err != nil {
		return fmt.Errorf("annotations: annotation %s cannot be serialized: %w", anno.ID(), err)
	}
	document := index.Document{
		ID:      anno.ID(),
		DocType: index.DocTypeAnnotation,
		Body:    string(body),
	}
	fields := permissionFields(anno.Permissions())
	for _, target := range anno.TargetList() {
		fields = append(fields, index.Field{Name: index.FieldTargetID, Value: target.ID})
		if target.Type != "" {
			fields = append(fields, index.Field{Name: index.FieldTargetType, Value: target.Type})
		}
	}
	if err := s.index.Put(ctx, document, fields); err != nil {
		return err
	}
	s.needsRefresh.Store(true)
	return nil
}

func (s *Store) putCollection(ctx context.Context, collection *Collection) error {
	body, err := json.Marshal(collection.ToJSON())
	if err != nil {
		return fmt.Errorf("annotations: collection %s cannot be serialized: %w", collection.ID(), err)
	}
	document := index.Document{
		ID:      collection.ID(),
		DocType: index.DocTypeCollection,
		Body:    string(body),
	}
	if err := s.index.Put(ctx, document, permissionFields(collection.Permissions())); err != nil {
		return err
	}
	s.needsRefresh.Store(true)
	return nil
}

func (s *Store) putTombstone(ctx context.Context, id, docType string, tombstone map[string]any) error {
	body, err := json.Marshal(tombstone)
	if err != nil {
		return fmt.Errorf("annotations: tombstone for %s cannot be serialized: %w", id, err)
	}
	document := index.Document{
		ID:      id,
		DocType: docType,
		Body:    string(body),
		Deleted: true,
	}
	// No field rows: tombstones never match searches.
	if err := s.index.Put(ctx, document, nil); err != nil {
		return err
	}
	s.needsRefresh.Store(true)
	return nil
}

func (s *Store) refreshIfNeeded(ctx context.Context) error {
	if !s.needsRefresh.Load() {
		return nil
	}
	if err := s.index.Refresh(ctx); err != nil {
		return err
	}
	s.needsRefresh.Store(false)
	return nil
}

func permissionFields(perms *Permissions) []index.Field {
	if perms == nil {
		return nil
	}
	var fields []index.Field
	for _, status := range perms.AccessStatus {
		fields = append(fields, index.Field{Name: index.FieldAccessStatus, Value: status})
	}
	fields = append(fields, index.Field{Name: index.FieldOwner, Value: perms.Owner})
	for _, username := range perms.CanSee {
		fields = append(fields, index.Field{Name: index.FieldCanSee, Value: username})
	}
	for _, username := range perms.CanEdit {
		fields = append(fields, index.Field{Name: index.FieldCanEdit, Value: username})
	}
	return fields
}

func targetIDSet(targets []TargetDescriptor) map[string]bool {
	ids := make(map[string]bool, len(targets))
	for _, target := range targets {
		ids[target.ID] = true
	}
	return ids
}

func sameIDSet(before, after map[string]bool) bool {
	if len(before) != len(after) {
		return false
	}
	for id := range before {
		if !after[id] {
			return false
		}
	}
	return true
}

func (s *Store) logError(operation string, err error, fields ...zap.Field) {
	attrs := []zap.Field{zap.String("operation", operation)}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("annotation store error", attrs...)
}
