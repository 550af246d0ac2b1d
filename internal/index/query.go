package index

import "strings"

// Searchable field paths extracted from documents at Put time. The names
// follow the permission and target-list paths of the document shape so that
// query construction in the annotation core reads the same as the stored
// JSON.
const (
	FieldAccessStatus = "permissions.access_status"
	FieldOwner        = "permissions.owner"
	FieldCanSee       = "permissions.can_see"
	FieldCanEdit      = "permissions.can_edit"
	FieldTargetID     = "target_list.id"
	FieldTargetType   = "target_list.type"
)

// Query is a boolean match query over the indexed document fields.
type Query interface {
	isQuery()
}

// Match matches documents carrying the given value for an indexed field.
type Match struct {
	Field string
	Value string
}

func (Match) isQuery() {}

// Bool combines subqueries: all Must clauses and at least one Should clause
// have to match.
type Bool struct {
	Must   []Query
	Should []Query
}

func (Bool) isQuery() {}

// BoolMust builds a conjunction of queries.
func BoolMust(queries ...Query) Query {
	return Bool{Must: queries}
}

// BoolShould builds a disjunction of queries.
func BoolShould(queries ...Query) Query {
	return Bool{Should: queries}
}

// compile renders a query into a SQL condition over the documents table,
// with one membership subquery per field match.
func compile(query Query) (string, []any) {
	switch typed := query.(type) {
	case Match:
		return "documents.id IN (SELECT doc_id FROM document_fields WHERE name = ? AND value = ?)",
			[]any{typed.Field, typed.Value}
	case Bool:
		var parts []string
		var args []any
		if len(typed.Must) > 0 {
			condition, mustArgs := compileJoined(typed.Must, " AND ")
			parts = append(parts, condition)
			args = append(args, mustArgs...)
		}
		if len(typed.Should) > 0 {
			condition, shouldArgs := compileJoined(typed.Should, " OR ")
			parts = append(parts, condition)
			args = append(args, shouldArgs...)
		}
		if len(parts) == 0 {
			return "1 = 1", nil
		}
		return "(" + strings.Join(parts, " AND ") + ")", args
	}
	return "1 = 1", nil
}

func compileJoined(queries []Query, operator string) (string, []any) {
	conditions := make([]string, 0, len(queries))
	var args []any
	for _, sub := range queries {
		condition, subArgs := compile(sub)
		conditions = append(conditions, condition)
		args = append(args, subArgs...)
	}
	return "(" + strings.Join(conditions, operator) + ")", args
}
