package annotations

import (
	"slices"

	"github.com/PergamonResearchLab/annoserv/internal/index"
)

// Query policy: which boolean clauses a given principal's request turns
// into. The index executes the queries; deciding what to ask is part of the
// core's contract.

func accessMatch(status string) index.Query {
	return index.Match{Field: index.FieldAccessStatus, Value: status}
}

func ownerMatch(username string) index.Query {
	return index.Match{Field: index.FieldOwner, Value: username}
}

func canSeeMatch(username string) index.Query {
	return index.Match{Field: index.FieldCanSee, Value: username}
}

func canEditMatch(username string) index.Query {
	return index.Match{Field: index.FieldCanEdit, Value: username}
}

func privateMatch(username string) index.Query {
	return index.BoolMust(accessMatch(StatusPrivate), ownerMatch(username))
}

func sharedSeeMatch(username string) index.Query {
	return index.BoolMust(
		accessMatch(StatusShared),
		index.BoolShould(ownerMatch(username), canSeeMatch(username)),
	)
}

func sharedEditMatch(username string) index.Query {
	return index.BoolMust(accessMatch(StatusShared), canEditMatch(username))
}

// buildSeeQuery returns the visibility query for listings: anonymous
// principals only reach public objects; a username without an explicit
// access status is assumed to ask for its own private objects.
func buildSeeQuery(params *Params) index.Query {
	username := params.username()
	if username == "" {
		return accessMatch(StatusPublic)
	}
	statuses := params.AccessStatus
	if len(statuses) == 0 {
		return privateMatch(username)
	}
	var clauses []index.Query
	if slices.Contains(statuses, StatusPrivate) {
		clauses = append(clauses, privateMatch(username))
	}
	if slices.Contains(statuses, StatusShared) {
		clauses = append(clauses, sharedSeeMatch(username))
	}
	if slices.Contains(statuses, StatusPublic) {
		clauses = append(clauses, accessMatch(StatusPublic))
	}
	if len(clauses) == 1 {
		// A single clause stays a conjunction so it is required, not optional.
		return index.BoolMust(clauses...)
	}
	return index.BoolShould(clauses...)
}

// buildEditQuery returns the editability query for listings restricted to
// objects the principal may change. A username without an explicit access
// status defaults to its own private objects, as in buildSeeQuery.
func buildEditQuery(params *Params) index.Query {
	username := params.username()
	statuses := params.AccessStatus
	if len(statuses) == 0 {
		return privateMatch(username)
	}
	var clauses []index.Query
	if slices.Contains(statuses, StatusPrivate) {
		clauses = append(clauses, privateMatch(username))
	}
	if slices.Contains(statuses, StatusShared) {
		clauses = append(clauses, sharedEditMatch(username))
	}
	if slices.Contains(statuses, StatusPublic) {
		clauses = append(clauses, accessMatch(StatusPublic))
	}
	if len(clauses) == 1 {
		return index.BoolMust(clauses...)
	}
	return index.BoolShould(clauses...)
}

// buildFilterQueries translates the target filter into target-list clauses.
func buildFilterQueries(params *Params) []index.Query {
	if params == nil || params.Filter == nil {
		return nil
	}
	var queries []index.Query
	if params.Filter.TargetID != "" {
		queries = append(queries, index.Match{Field: index.FieldTargetID, Value: params.Filter.TargetID})
	} else if params.Filter.TargetType != "" {
		queries = append(queries, index.Match{Field: index.FieldTargetType, Value: params.Filter.TargetType})
	}
	return queries
}
