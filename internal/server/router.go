package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PergamonResearchLab/annoserv/internal/annotations"
	"github.com/PergamonResearchLab/annoserv/internal/users"
)

const usernameContextKey = "annoserv_username"

var (
	errMissingStore        = errors.New("annotation store dependency required")
	errMissingUserService  = errors.New("user service dependency required")
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingBaseURL      = errors.New("base url required")
)

// TokenManager issues and validates the API's bearer tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, username string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to the services behind it.
type Dependencies struct {
	Store        *annotations.Store
	UserService  *users.Service
	TokenManager TokenManager
	Logger       *zap.Logger
	BaseURL      string
	PageSize     int
}

// NewHTTPHandler builds the gin router serving the annotation protocol.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.UserService == nil {
		return nil, errMissingUserService
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if strings.TrimSpace(deps.BaseURL) == "" {
		return nil, errMissingBaseURL
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Prefer"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:    deps.Store,
		users:    deps.UserService,
		tokens:   deps.TokenManager,
		logger:   logger,
		baseURL:  strings.TrimRight(deps.BaseURL, "/"),
		pageSize: pageSize,
	}

	router.POST("/users", handler.handleRegister)
	router.POST("/login", handler.handleLogin)

	api := router.Group("/")
	api.Use(handler.identifyRequest)
	api.GET("/annotations/", handler.handleListAnnotations)
	api.POST("/annotations/", handler.requireUser, handler.handleAddAnnotation)
	api.GET("/annotations/:id", handler.handleGetAnnotation)
	api.PUT("/annotations/:id", handler.requireUser, handler.handleUpdateAnnotation)
	api.DELETE("/annotations/:id", handler.requireUser, handler.handleRemoveAnnotation)
	api.GET("/collections/", handler.handleListCollections)
	api.POST("/collections/", handler.requireUser, handler.handleCreateCollection)
	api.GET("/collections/:id", handler.handleGetCollection)
	api.PUT("/collections/:id", handler.requireUser, handler.handleUpdateCollection)
	api.DELETE("/collections/:id", handler.requireUser, handler.handleRemoveCollection)
	api.GET("/collections/:id/annotations/", handler.handleCollectionPage)
	api.POST("/collections/:id/annotations/", handler.requireUser, handler.handleAddToCollection)
	api.DELETE("/collections/:id/annotations/:annotationID", handler.requireUser, handler.handleRemoveFromCollection)

	return router, nil
}

type httpHandler struct {
	store    *annotations.Store
	users    *users.Service
	tokens   TokenManager
	logger   *zap.Logger
	baseURL  string
	pageSize int
}

// identifyRequest resolves the bearer token into a username when one is
// presented. Requests without an Authorization header proceed anonymously.
// Invalid tokens answer 403 rather than 401 to keep browsers from raising
// their default auth dialog.
func (h *httpHandler) identifyRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.Next()
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" || token == header {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Unauthorized access"})
		return
	}
	username, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Unauthorized access"})
		return
	}
	c.Set(usernameContextKey, username)
	c.Next()
}

// requireUser rejects anonymous requests on mutating endpoints.
func (h *httpHandler) requireUser(c *gin.Context) {
	if c.GetString(usernameContextKey) == "" {
		c.AbortWithStatusJSON(http.StatusForbidden,
			gin.H{"message": "Anonymous access with this method is not allowed"})
		return
	}
	c.Next()
}

type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}
	user, err := h.users.Register(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		h.writeUserError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"username": user.Username})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}
	if err := h.users.Verify(c.Request.Context(), request.Username, request.Password); err != nil {
		h.writeUserError(c, err)
		return
	}
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), request.Username)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"expires_in":   expiresIn,
		"token_type":   "Bearer",
	})
}

func (h *httpHandler) writeUserError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, users.ErrUserExists):
		c.JSON(http.StatusConflict, gin.H{"message": "user already exists"})
	case errors.Is(err, users.ErrUnknownUser), errors.Is(err, users.ErrIncorrectPassword):
		c.JSON(http.StatusForbidden, gin.H{"message": "Unauthorized access"})
	case errors.Is(err, users.ErrMissingPassword):
		c.JSON(http.StatusBadRequest, gin.H{"message": "password is required"})
	default:
		h.logger.Error("user service error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal server error"})
	}
}

// writeStoreError maps the store's error kinds onto HTTP statuses. This is
// the only place the mapping lives.
func (h *httpHandler) writeStoreError(c *gin.Context, err error) {
	var storeErr *annotations.Error
	if !errors.As(err, &storeErr) {
		h.logger.Error("annotation store failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal server error"})
		return
	}
	status := http.StatusInternalServerError
	switch storeErr.Kind() {
	case annotations.KindValidation:
		status = http.StatusBadRequest
	case annotations.KindPermission:
		status = http.StatusForbidden
	case annotations.KindNotFound:
		status = http.StatusNotFound
	case annotations.KindConflict:
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"message": storeErr.Error()})
}
