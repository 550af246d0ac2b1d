package server

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PergamonResearchLab/annoserv/internal/annotations"
	"github.com/PergamonResearchLab/annoserv/internal/container"
)

var errInvalidAccessStatus = errors.New(
	"'access_status' parameter should be either 'private', 'shared' or 'public'")

// requestParams bundles everything a handler derives from the request:
// the store-facing parameters plus the container view preference.
type requestParams struct {
	store *annotations.Params
	view  container.View
	page  int
	// pageRequested distinguishes "?page=0" from no page parameter.
	pageRequested bool
}

// parseParams interprets the request headers and query parameters. The
// username is whatever the auth middleware put into the context; empty means
// anonymous.
func parseParams(c *gin.Context) (*requestParams, error) {
	params := &requestParams{view: container.ViewMinimalContainer}

	if err := parseViewPreference(c, params); err != nil {
		return nil, err
	}

	store := &annotations.Params{Username: c.GetString(usernameContextKey)}
	if err := parseAccessParams(c, store); err != nil {
		return nil, err
	}
	parseFilterParams(c, store)
	store.IncludePermissions = c.Query("include_permissions") == "true"
	store.EditableOnly = c.Query("mode") == "edit"
	store.Page = params.page
	params.store = store
	return params, nil
}

// parseViewPreference resolves the container view: the Prefer header selects
// it by name, and explicit page/iris query parameters override the header.
func parseViewPreference(c *gin.Context, params *requestParams) error {
	if name, ok := preferredView(c.GetHeader("Prefer")); ok {
		view, err := container.ParseView(name)
		if err != nil {
			return err
		}
		params.view = view
	}
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 0 {
			return errors.New("Parameter page must be non-negative integer")
		}
		params.page = page
		params.pageRequested = true
		params.view = container.ViewContainedIRIs
	}
	if raw := c.Query("iris"); raw != "" {
		iris, err := strconv.Atoi(raw)
		if err != nil {
			return errors.New("Parameter iris must be 0 or 1")
		}
		if iris == 0 {
			params.view = container.ViewContainedDescriptions
		}
	}
	return nil
}

// preferredView extracts the container preference from a Prefer header of
// the form `return=representation;include="http://...#PreferX"`.
func preferredView(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	prefer := map[string]string{}
	for _, part := range strings.Split(strings.TrimSpace(header), ";") {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		prefer[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if prefer["return"] != "representation" {
		return "", false
	}
	_, fragment, found := strings.Cut(prefer["include"], "#")
	if !found || fragment == "" {
		return "", false
	}
	return fragment, true
}

func parseAccessParams(c *gin.Context, store *annotations.Params) error {
	status := c.Query("access_status")
	if status == "" {
		return nil
	}
	switch status {
	case annotations.StatusPrivate, annotations.StatusShared, annotations.StatusPublic:
	default:
		return errInvalidAccessStatus
	}
	store.AccessStatus = []string{status}
	if status == annotations.StatusShared {
		if canSee := c.Query("can_see"); canSee != "" {
			store.CanSee = strings.Split(canSee, ",")
		}
		if canEdit := c.Query("can_edit"); canEdit != "" {
			store.CanEdit = strings.Split(canEdit, ",")
		}
	}
	return nil
}

func parseFilterParams(c *gin.Context, store *annotations.Params) {
	targetID := c.Query("target_id")
	targetType := c.Query("target_type")
	if targetID == "" && targetType == "" {
		return
	}
	store.Filter = &annotations.Filter{TargetID: targetID, TargetType: targetType}
}
