package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/malakmagdy1/RealStateFlutter/internal/account"
	"github.com/malakmagdy1/RealStateFlutter/internal/assistant"
	"github.com/malakmagdy1/RealStateFlutter/internal/auth"
	"github.com/malakmagdy1/RealStateFlutter/internal/logger"
)

// JobCanceler drops queued provider calls of a user, e.g. on logout.
type JobCanceler interface {
	CancelUser(userID int64)
}

// Handler wires HTTP routes to the account, auth and assistant services.
type Handler struct {
	assistant *assistant.Service
	accounts  *account.Service
	auth      *auth.Service
	jobs      JobCanceler
	log       *logger.Logger
}

// NewHandler constructs a Handler instance. jobs may be nil.
func NewHandler(asst *assistant.Service, accounts *account.Service, authService *auth.Service, jobs JobCanceler, log *logger.Logger) *Handler {
	return &Handler{
		assistant: asst,
		accounts:  accounts,
		auth:      authService,
		jobs:      jobs,
		log:       log.With("component", "HTTPHandler"),
	}
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return userID, true
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.healthz)

	api := router.Group("/api")
	api.POST("/register", h.registerUser)
	api.POST("/login", h.loginUser)

	private := api.Group("")
	private.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	private.POST("/logout", h.logoutUser)
	private.DELETE("/account", h.deleteAccount)

	ai := private.Group("/ai")
	ai.POST("/chat", h.chat)
	ai.GET("/conversations", h.listConversations)
	ai.GET("/conversations/:id", h.getConversation)
	ai.DELETE("/conversations/:id", h.deleteConversation)
	ai.POST("/recommendations", h.recommendations)
	ai.POST("/generate-description", h.generateDescription)
	ai.POST("/ask", h.ask)
	ai.POST("/compare", h.compare)
	ai.POST("/market-insights", h.marketInsights)
	ai.POST("/sales-assistant", h.salesAssistant)
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.accounts.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.logFailure("register failed", 0, err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if !errors.Is(err, account.ErrInvalidCredentials) {
			h.logFailure("login failed", 0, err)
		}
		writeError(c, err)
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		h.logFailure("issue token failed", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"auth_token": authToken,
		"csrf_token": csrfToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if h.jobs != nil {
		h.jobs.CancelUser(userID)
	}
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), authToken); err != nil {
			h.logFailure("revoke token failed", userID, err)
		}
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteAccount(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.auth.RevokeUserTokens(c.Request.Context(), userID); err != nil {
		h.logFailure("revoke user tokens failed", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete account failed"})
		return
	}
	if h.jobs != nil {
		h.jobs.CancelUser(userID)
	}
	if err := h.accounts.Delete(c.Request.Context(), userID); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logFailure("delete account failed", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete account failed"})
		return
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) logFailure(msg string, userID int64, err error) {
	h.log.Warn(msg, "user_id", userID, "error", err)
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
