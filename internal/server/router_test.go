package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/PergamonResearchLab/annoserv/internal/annotations"
	"github.com/PergamonResearchLab/annoserv/internal/auth"
	"github.com/PergamonResearchLab/annoserv/internal/index"
	"github.com/PergamonResearchLab/annoserv/internal/users"
)

const testBaseURL = "http://annoserv.test"

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&index.Document{}, &index.Field{}, &users.User{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	documentIndex, err := index.New(index.Config{Database: db})
	if err != nil {
		t.Fatalf("failed to build index: %v", err)
	}
	store, err := annotations.NewStore(annotations.StoreConfig{
		Index:      documentIndex,
		IDProvider: annotations.NewURNProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build user service: %v", err)
	}
	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "annoserv-auth",
		Audience:      "annoserv-api",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Store:        store,
		UserService:  userService,
		TokenManager: tokenManager,
		BaseURL:      testBaseURL,
		PageSize:     100,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewBuffer(encoded)
	} else {
		body = bytes.NewBuffer(nil)
	}
	request := httptest.NewRequest(method, path, body)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var decoded map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

func registerAndLogin(t *testing.T, handler http.Handler, username string) string {
	t.Helper()
	credentials := map[string]any{"username": username, "password": "secret"}
	if recorder := doJSON(t, handler, http.MethodPost, "/users", "", credentials); recorder.Code != http.StatusCreated {
		t.Fatalf("registration failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	recorder := doJSON(t, handler, http.MethodPost, "/login", "", credentials)
	if recorder.Code != http.StatusOK {
		t.Fatalf("login failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	token, ok := decodeBody(t, recorder)["access_token"].(string)
	if !ok || token == "" {
		t.Fatalf("login response missing access token")
	}
	return token
}

func testAnnotationPayload() map[string]any {
	return map[string]any{
		"@context": "http://www.w3.org/ns/anno.jsonld",
		"type":     "Annotation",
		"body":     []any{map[string]any{"value": "a note"}},
		"target":   "http://example.org/resource/1",
	}
}

func TestRegisterAndLoginFlow(t *testing.T) {
	handler := newTestHandler(t)

	credentials := map[string]any{"username": "alice", "password": "secret"}
	recorder := doJSON(t, handler, http.MethodPost, "/users", "", credentials)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	if recorder := doJSON(t, handler, http.MethodPost, "/users", "", credentials); recorder.Code != http.StatusConflict {
		t.Fatalf("duplicate registration must answer 409, got %d", recorder.Code)
	}

	wrong := map[string]any{"username": "alice", "password": "wrong"}
	if recorder := doJSON(t, handler, http.MethodPost, "/login", "", wrong); recorder.Code != http.StatusForbidden {
		t.Fatalf("bad password must answer 403, got %d", recorder.Code)
	}

	if recorder := doJSON(t, handler, http.MethodPost, "/login", "", credentials); recorder.Code != http.StatusOK {
		t.Fatalf("login failed with %d", recorder.Code)
	}
}

func TestAnonymousCannotMutate(t *testing.T) {
	handler := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodPost, "/annotations/", "", testAnnotationPayload())
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if message := decodeBody(t, recorder)["message"]; message != "Anonymous access with this method is not allowed" {
		t.Fatalf("unexpected message %v", message)
	}
}

func TestInvalidTokenAnswersForbidden(t *testing.T) {
	handler := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodGet, "/annotations/", "not-a-token", nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad token, got %d", recorder.Code)
	}
}

func TestAnnotationLifecycleOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "alice")

	recorder := doJSON(t, handler, http.MethodPost, "/annotations/", token, testAnnotationPayload())
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	created := decodeBody(t, recorder)
	externalID, ok := created["id"].(string)
	if !ok || !strings.HasPrefix(externalID, testBaseURL+"/annotations/") {
		t.Fatalf("expected external id, got %v", created["id"])
	}
	annotationID := externalID[strings.LastIndex(externalID, "/")+1:]

	// Owner reads it back.
	recorder = doJSON(t, handler, http.MethodGet, "/annotations/"+annotationID, token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	// Private annotations answer 403 to anonymous readers.
	recorder = doJSON(t, handler, http.MethodGet, "/annotations/"+annotationID, "", nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}

	// Update with the external id in the payload.
	update := testAnnotationPayload()
	update["id"] = externalID
	update["body"] = []any{map[string]any{"value": "revised"}}
	recorder = doJSON(t, handler, http.MethodPut, "/annotations/"+annotationID, token, update)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	// Mismatched payload id is rejected before reaching the store.
	mismatched := testAnnotationPayload()
	mismatched["id"] = "urn:test:other"
	recorder = doJSON(t, handler, http.MethodPut, "/annotations/"+annotationID, token, mismatched)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodDelete, "/annotations/"+annotationID, token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if status := decodeBody(t, recorder)["status"]; status != "deleted" {
		t.Fatalf("expected tombstone, got %v", status)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/annotations/"+annotationID, token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", recorder.Code)
	}
}

func TestAnnotationListingViews(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "alice")

	payload := testAnnotationPayload()
	recorder := doJSON(t, handler, http.MethodPost, "/annotations/?access_status=public", token, payload)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	// Anonymous minimal container over public annotations.
	recorder = doJSON(t, handler, http.MethodGet, "/annotations/", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	listing := decodeBody(t, recorder)
	if listing["total"] != float64(1) {
		t.Fatalf("unexpected total %v", listing["total"])
	}
	if _, ok := listing["first"].(string); !ok {
		t.Fatalf("minimal view must reference first page by IRI, got %v", listing["first"])
	}

	// The Prefer header switches to an embedded first page.
	request := httptest.NewRequest(http.MethodGet, "/annotations/", nil)
	request.Header.Set("Prefer", `return=representation;include="http://www.w3.org/ns/ldp#PreferContainedIRIs"`)
	pageRecorder := httptest.NewRecorder()
	handler.ServeHTTP(pageRecorder, request)
	if pageRecorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", pageRecorder.Code)
	}
	listing = decodeBody(t, pageRecorder)
	if _, ok := listing["first"].(map[string]any); !ok {
		t.Fatalf("expected embedded first page, got %v", listing["first"])
	}

	// An explicit page parameter answers a single AnnotationPage.
	recorder = doJSON(t, handler, http.MethodGet, "/annotations/?page=0", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	page := decodeBody(t, recorder)
	if page["type"] != "AnnotationPage" {
		t.Fatalf("expected AnnotationPage, got %v", page["type"])
	}

	recorder = doJSON(t, handler, http.MethodGet, "/annotations/?access_status=banana", "", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("invalid access_status must answer 400, got %d", recorder.Code)
	}
}

func TestCollectionEndpoints(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "alice")

	collectionPayload := map[string]any{
		"@context": "http://www.w3.org/ns/anno.jsonld",
		"type":     "AnnotationCollection",
		"label":    "reading notes",
	}
	recorder := doJSON(t, handler, http.MethodPost, "/collections/", token, collectionPayload)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	created := decodeBody(t, recorder)
	externalID := created["id"].(string)
	collectionID := externalID[strings.LastIndex(externalID, "/")+1:]

	recorder = doJSON(t, handler, http.MethodPost, "/annotations/", token, testAnnotationPayload())
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", recorder.Code)
	}
	annotationExternal := decodeBody(t, recorder)["id"].(string)

	recorder = doJSON(t, handler, http.MethodPost, "/collections/"+collectionID+"/annotations/", token,
		map[string]any{"id": annotationExternal})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if total := decodeBody(t, recorder)["total"]; total != float64(1) {
		t.Fatalf("unexpected total %v", total)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/collections/"+collectionID, token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	rendered := decodeBody(t, recorder)
	if rendered["label"] != "reading notes" || rendered["total"] != float64(1) {
		t.Fatalf("unexpected container %v", rendered)
	}

	annotationID := annotationExternal[strings.LastIndex(annotationExternal, "/")+1:]
	recorder = doJSON(t, handler, http.MethodDelete,
		"/collections/"+collectionID+"/annotations/"+annotationID, token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if total := decodeBody(t, recorder)["total"]; total != float64(0) {
		t.Fatalf("unexpected total %v", total)
	}

	recorder = doJSON(t, handler, http.MethodDelete, "/collections/"+collectionID, token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestListAnnotationsEditMode(t *testing.T) {
	handler := newTestHandler(t)
	aliceToken := registerAndLogin(t, handler, "alice")
	bobToken := registerAndLogin(t, handler, "bob")

	recorder := doJSON(t, handler, http.MethodPost,
		"/annotations/?access_status=shared&can_see=bob&can_edit=bob", aliceToken, testAnnotationPayload())
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	editableExternal := decodeBody(t, recorder)["id"].(string)

	recorder = doJSON(t, handler, http.MethodPost,
		"/annotations/?access_status=shared&can_see=bob", aliceToken, testAnnotationPayload())
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodGet,
		"/annotations/?access_status=shared&mode=edit&page=0", bobToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	page := decodeBody(t, recorder)
	items, ok := page["items"].([]any)
	if !ok || len(items) != 1 || items[0] != editableExternal {
		t.Fatalf("edit-scoped page must hold only the editable annotation, got %v", page["items"])
	}
}
