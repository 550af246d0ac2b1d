package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PergamonResearchLab/annoserv/internal/container"
)

func (h *httpHandler) handleListCollections(c *gin.Context) {
	params, err := parseParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	_, listed, err := h.store.GetCollections(c.Request.Context(), params.store)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	for _, collection := range listed {
		h.externalizeCollection(collection)
	}
	c.JSON(http.StatusOK, gin.H{"collections": listed})
}

func (h *httpHandler) handleCreateCollection(c *gin.Context) {
	params, err := parseParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	var document map[string]any
	if err := c.ShouldBindJSON(&document); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "collection MUST be valid JSON"})
		return
	}
	collection, err := h.store.CreateCollection(c.Request.Context(), document, params.store)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.externalizeCollection(collection))
}

// handleGetCollection renders a stored collection as an LDP container in the
// requested view.
func (h *httpHandler) handleGetCollection(c *gin.Context) {
	params, err := parseParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	collectionID := c.Param("id")
	collection, err := h.store.GetCollection(c.Request.Context(), collectionID, params.store)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	view, err := container.NewFromCollection(h.externalID("collections", collectionID), collection, h.pageSize, params.view)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	h.renderContainer(c, view, params)
}

func (h *httpHandler) handleUpdateCollection(c *gin.Context) {
	params, err := parseParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	var document map[string]any
	if err := c.ShouldBindJSON(&document); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "collection MUST be valid JSON"})
		return
	}
	if id, ok := document["id"].(string); ok {
		document["id"] = internalID(id)
	}
	if document["id"] != c.Param("id") {
		c.JSON(http.StatusBadRequest,
			gin.H{"message": "updated collection has different id from id in request URL"})
		return
	}
	collection, err := h.store.UpdateCollection(c.Request.Context(), document, params.store)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.externalizeCollection(collection))
}

func (h *httpHandler) handleRemoveCollection(c *gin.Context) {
	params, err := parseParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	tombstone, err := h.store.RemoveCollection(c.Request.Context(), c.Param("id"), params.store)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.externalizeCollection(tombstone))
}

// handleCollectionPage answers the members of a collection as a page of full
// annotation bodies.
func (h *httpHandler) handleCollectionPage(c *gin.Context) {
	params, err := parseParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	collectionID := c.Param("id")
	collection, err := h.store.GetCollection(c.Request.Context(), collectionID, params.store)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	memberIDs := stringItems(collection["items"])
	members, err := h.store.GetAnnotationsByID(c.Request.Context(), memberIDs, params.store)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	for _, annotation := range members {
		h.externalizeAnnotation(annotation)
	}
	view, err := container.NewFromAnnotations(
		h.externalID("collections", collectionID)+"/annotations/",
		members, int64(len(members)), h.pageSize, container.ViewContainedDescriptions)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	page, err := view.Page(params.page)
	if err == container.ErrNoSuchPage {
		c.JSON(http.StatusNotFound, gin.H{"message": "no such page"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, page)
}

type addToCollectionPayload struct {
	ID string `json:"id"`
}

func (h *httpHandler) handleAddToCollection(c *gin.Context) {
	params, err := parseParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	var request addToCollectionPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "annotation id is required"})
		return
	}
	collection, err := h.store.AddAnnotationToCollection(
		c.Request.Context(), internalID(request.ID), c.Param("id"), params.store)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.externalizeCollection(collection))
}

func (h *httpHandler) handleRemoveFromCollection(c *gin.Context) {
	params, err := parseParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	collection, err := h.store.RemoveAnnotationFromCollection(
		c.Request.Context(), c.Param("annotationID"), c.Param("id"), params.store)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.externalizeCollection(collection))
}

func stringItems(value any) []string {
	var items []string
	switch typed := value.(type) {
	case []string:
		return typed
	case []any:
		for _, item := range typed {
			if id, ok := item.(string); ok {
				items = append(items, id)
			}
		}
	}
	return items
}
