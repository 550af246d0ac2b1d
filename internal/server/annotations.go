package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PergamonResearchLab/annoserv/internal/container"
)

// externalID turns a stored id into the resource URL clients address it by.
func (h *httpHandler) externalID(resource, id string) string {
	return h.baseURL + "/" + resource + "/" + id
}

// internalID reduces a client-supplied resource URL to the stored id.
func internalID(id string) string {
	if index := strings.LastIndex(id, "/"); index >= 0 {
		return id[index+1:]
	}
	return id
}

func (h *httpHandler) externalizeAnnotation(annotation map[string]any) map[string]any {
	if id, ok := annotation["id"].(string); ok {
		annotation["id"] = h.externalID("annotations", id)
	}
	return annotation
}

func (h *httpHandler) externalizeCollection(collection map[string]any) map[string]any {
	if id, ok := collection["id"].(string); ok {
		collection["id"] = h.externalID("collections", id)
	}
	return collection
}

func (h *httpHandler) handleListAnnotations(c *gin.Context) {
	params, err := parseParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	total, listed, err := h.store.GetAnnotations(c.Request.Context(), params.store)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	for _, annotation := range listed {
		h.externalizeAnnotation(annotation)
	}
	listing, err := container.NewFromAnnotations(h.baseURL+"/annotations/", listed, total, h.pageSize, params.view)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	h.renderContainer(c, listing, params)
}

// renderContainer answers with either the container view or, when a page was
// requested explicitly, the single AnnotationPage.
func (h *httpHandler) renderContainer(c *gin.Context, listing *container.Container, params *requestParams) {
	if !params.pageRequested {
		c.JSON(http.StatusOK, listing.Render())
		return
	}
	page, err := listing.Page(params.page)
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

func (h *httpHandler) handleAddAnnotation(c *gin.Context) {
	params, err := parseParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	var document map[string]any
	if err := c.ShouldBindJSON(&document); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "annotation MUST be valid JSON"})
		return
	}
	annotation, err := h.store.AddAnnotation(c.Request.Context(), document, params.store)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.externalizeAnnotation(annotation))
}

func (h *httpHandler) handleGetAnnotation(c *gin.Context) {
	params, err := parseParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	annotation, err := h.store.GetAnnotation(c.Request.Context(), c.Param("id"), params.store)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.externalizeAnnotation(annotation))
}

func (h *httpHandler) handleUpdateAnnotation(c *gin.Context) {
	params, err := parseParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	var document map[string]any
	if err := c.ShouldBindJSON(&document); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "annotation MUST be valid JSON"})
		return
	}
	if id, ok := document["id"].(string); ok {
		document["id"] = internalID(id)
	}
	if document["id"] != c.Param("id") {
		c.JSON(http.StatusBadRequest,
			gin.H{"message": "updated annotation has different id from id in request URL"})
		return
	}
	annotation, err := h.store.UpdateAnnotation(c.Request.Context(), document, params.store)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.externalizeAnnotation(annotation))
}

func (h *httpHandler) handleRemoveAnnotation(c *gin.Context) {
	params, err := parseParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	tombstone, err := h.store.RemoveAnnotation(c.Request.Context(), c.Param("id"), params.store)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.externalizeAnnotation(tombstone))
}
