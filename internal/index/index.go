package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Document types stored in the index.
const (
	DocTypeAnnotation = "annotation"
	DocTypeCollection = "collection"
)

// ErrNotFound reports that no document with the requested id is indexed.
var ErrNotFound = errors.New("index: document not found")

var errMissingDatabase = errors.New("index: database handle is required")

// Document is one indexed JSON document. Deleted documents keep their row as
// a tombstone but lose their searchable field rows.
type Document struct {
	ID               string `gorm:"column:id;primaryKey;size:512;not null"`
	DocType          string `gorm:"column:doc_type;size:32;not null;index:idx_documents_type"`
	Body             string `gorm:"column:body;type:text;not null"`
	Deleted          bool   `gorm:"column:deleted;not null;default:false"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// Field is one searchable (name, value) pair extracted from a document.
type Field struct {
	RowID int64  `gorm:"column:row_id;primaryKey;autoIncrement"`
	DocID string `gorm:"column:doc_id;size:512;not null;index:idx_fields_doc"`
	Name  string `gorm:"column:name;size:64;not null;index:idx_fields_lookup,priority:1"`
	Value string `gorm:"column:value;size:512;not null;index:idx_fields_lookup,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Field) TableName() string {
	return "document_fields"
}

// Config describes the dependencies of the document index.
type Config struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Index stores JSON documents by id and answers boolean match queries over
// the fields extracted from them.
type Index struct {
	db    *gorm.DB
	clock func() time.Time
}

// New constructs a document index over the provided database handle.
func New(cfg Config) (*Index, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Index{db: cfg.Database, clock: clock}, nil
}

// Exists reports whether a document with the given id is indexed, tombstones
// included.
func (i *Index) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := i.db.WithContext(ctx).Model(&Document{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("index: existence check failed: %w", err)
	}
	return count > 0, nil
}

// Get fetches a document by id regardless of its deleted state. Callers
// decide how to treat tombstones.
func (i *Index) Get(ctx context.Context, id string) (Document, error) {
	var document Document
	err := i.db.WithContext(ctx).Where("id = ?", id).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("index: get failed: %w", err)
	}
	return document, nil
}

// Put creates or replaces a document together with its searchable field
// rows. The previous field rows are dropped so searches only ever see the
// current extraction.
func (i *Index) Put(ctx context.Context, document Document, fields []Field) error {
	document.UpdatedAtSeconds = i.clock().UTC().Unix()
	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&document).Error; err != nil {
			return fmt.Errorf("index: document save failed: %w", err)
		}
		if err := tx.Where("doc_id = ?", document.ID).Delete(&Field{}).Error; err != nil {
			return fmt.Errorf("index: field cleanup failed: %w", err)
		}
		for _, field := range fields {
			field.DocID = document.ID
			field.RowID = 0
			if err := tx.Create(&field).Error; err != nil {
				return fmt.Errorf("index: field insert failed: %w", err)
			}
		}
		return nil
	})
}

// Delete removes a document and its field rows entirely. The annotation
// store tombstones instead of deleting; this is for hard cleanup only.
func (i *Index) Delete(ctx context.Context, id string) error {
	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("doc_id = ?", id).Delete(&Field{}).Error; err != nil {
			return fmt.Errorf("index: field cleanup failed: %w", err)
		}
		result := tx.Where("id = ?", id).Delete(&Document{})
		if result.Error != nil {
			return fmt.Errorf("index: document delete failed: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Search returns the total number of non-deleted documents of the given type
// matching the query, plus the window selected by from and size.
func (i *Index) Search(ctx context.Context, docType string, query Query, from, size int) (int64, []Document, error) {
	scope := i.db.WithContext(ctx).Model(&Document{}).
		Where("doc_type = ? AND deleted = ?", docType, false)
	if query != nil {
		condition, args := compile(query)
		scope = scope.Where(condition, args...)
	}

	var total int64
	if err := scope.Count(&total).Error; err != nil {
		return 0, nil, fmt.Errorf("index: search count failed: %w", err)
	}

	var documents []Document
	err := scope.Order("updated_at_s, id").Offset(from).Limit(size).Find(&documents).Error
	if err != nil {
		return 0, nil, fmt.Errorf("index: search failed: %w", err)
	}
	return total, documents, nil
}

// Refresh is the visibility hook consulted after mutations. Index backends
// with asynchronous segment visibility flush here; the SQLite backend is
// always fresh.
func (i *Index) Refresh(ctx context.Context) error {
	return nil
}
