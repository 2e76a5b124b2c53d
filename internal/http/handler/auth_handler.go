package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Extra-Chill/extrachill-users/internal/config"
	"github.com/Extra-Chill/extrachill-users/internal/http/middleware"
	"github.com/Extra-Chill/extrachill-users/internal/identity"
)

// sessionCookie carries the browser session token, set on handoff redemption
// and on the token flows when the caller asks for a cookie session.
const sessionCookie = "ec_session"

// AuthHandler exposes the identity flows over HTTP.
type AuthHandler struct {
	Identity *identity.Service
	Throttle *middleware.RateLimiter
	Logger   *zap.Logger
}

// NewAuthHandler creates the handler set. The throttle caps refresh rotation
// to one attempt per device per rotate window.
func NewAuthHandler(svc *identity.Service, cfg config.Config, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &AuthHandler{
		Identity: svc,
		Throttle: middleware.NewDeviceThrottle(cfg.RefreshRotateWait),
		Logger:   logger,
	}
}

// Login handles password login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Identifier string `json:"identifier" binding:"required"`
		Password   string `json:"password" binding:"required"`
		DeviceID   string `json:"device_id" binding:"required"`
		DeviceName string `json:"device_name"`
		Remember   bool   `json:"remember"`
		SetCookie  bool   `json:"set_cookie"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "identifier, password, and device_id are required."})
		return
	}

	resp, err := h.Identity.Login(c.Request.Context(), identity.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if req.SetCookie {
		h.setSessionCookie(c, resp.AccessToken, resp.AccessExpiresAt, req.Remember)
	}
	c.JSON(http.StatusOK, resp)
}

// Register handles signup.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Username          string `json:"username"`
		Email             string `json:"email"`
		Password          string `json:"password"`
		PasswordConfirm   string `json:"password_confirm"`
		TurnstileResponse string `json:"turnstile_response"`
		DeviceID          string `json:"device_id"`
		DeviceName        string `json:"device_name"`
		FromJoin          bool   `json:"from_join"`
		IsArtist          bool   `json:"is_artist"`
		IsProfessional    bool   `json:"is_professional"`
		SuccessRedirect   string `json:"success_redirect"`
		Remember          bool   `json:"remember"`
		SetCookie         bool   `json:"set_cookie"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid registration payload."})
		return
	}

	resp, err := h.Identity.Register(c.Request.Context(), identity.RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		CaptchaResponse: req.TurnstileResponse,
		RemoteIP:        c.ClientIP(),
		DeviceID:        req.DeviceID,
		DeviceName:      req.DeviceName,
		FromJoin:        req.FromJoin,
		IsArtist:        req.IsArtist,
		IsProfessional:  req.IsProfessional,
		SuccessRedirect: req.SuccessRedirect,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if req.SetCookie {
		h.setSessionCookie(c, resp.AccessToken, resp.AccessExpiresAt, req.Remember)
	}
	c.JSON(http.StatusCreated, resp)
}

// GoogleLogin verifies a Google ID token and signs the user in.
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	var req struct {
		IDToken         string `json:"id_token" binding:"required"`
		DeviceID        string `json:"device_id" binding:"required"`
		DeviceName      string `json:"device_name"`
		FromJoin        bool   `json:"from_join"`
		SuccessRedirect string `json:"success_redirect"`
		Remember        bool   `json:"remember"`
		SetCookie       bool   `json:"set_cookie"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "id_token and device_id are required."})
		return
	}

	resp, err := h.Identity.GoogleLogin(c.Request.Context(), identity.GoogleLoginInput{
		IDToken:         req.IDToken,
		DeviceID:        req.DeviceID,
		DeviceName:      req.DeviceName,
		FromJoin:        req.FromJoin,
		SuccessRedirect: req.SuccessRedirect,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if req.SetCookie {
		h.setSessionCookie(c, resp.AccessToken, resp.AccessExpiresAt, req.Remember)
	}
	c.JSON(http.StatusOK, resp)
}

// Refresh rotates the refresh token for a device.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
		DeviceID     string `json:"device_id" binding:"required"`
		Remember     bool   `json:"remember"`
		SetCookie    bool   `json:"set_cookie"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "refresh_token and device_id are required."})
		return
	}
	if !h.Throttle.Allow(req.DeviceID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "error_description": "Refresh attempted too soon. Retry shortly."})
		return
	}

	resp, err := h.Identity.Refresh(c.Request.Context(), req.RefreshToken, req.DeviceID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if req.SetCookie {
		h.setSessionCookie(c, resp.AccessToken, resp.AccessExpiresAt, req.Remember)
	}
	c.JSON(http.StatusOK, resp)
}

// Logout revokes the refresh token for the authenticated device.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := middleware.GetAccessClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}
	revoked, err := h.Identity.RevokeDevice(c.Request.Context(), claims.UserID, claims.DeviceID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}

// Me returns the authenticated user's public profile.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := middleware.GetAccessClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}
	profile, err := h.Identity.Profile(c.Request.Context(), claims.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// HandoffRequest mints a one-time browser handoff token for the
// authenticated user.
func (h *AuthHandler) HandoffRequest(c *gin.Context) {
	claims, ok := middleware.GetAccessClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}
	var req struct {
		RedirectURL string `json:"redirect_url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "redirect_url is required."})
		return
	}

	handoffToken, err := h.Identity.RequestHandoff(c.Request.Context(), claims.UserID, req.RedirectURL)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"handoff_token": handoffToken})
}

// HandoffRedeem consumes a handoff token from the browser, sets the session
// cookie, and redirects to the stored destination. Failures return bare
// status codes so the browser never sees token internals.
func (h *AuthHandler) HandoffRedeem(c *gin.Context) {
	rawToken := strings.TrimSpace(c.Query("token"))
	if rawToken == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	access, redirect, err := h.Identity.RedeemHandoff(c.Request.Context(), rawToken)
	if err != nil {
		status := http.StatusUnauthorized
		if authErr, ok := err.(*identity.AuthError); ok {
			status = authErr.Status
		}
		c.Status(status)
		return
	}

	h.setSessionCookie(c, access.Token, access.ExpiresAt, true)
	c.Redirect(http.StatusFound, redirect)
}

// setSessionCookie writes the browser session cookie. With remember the
// cookie persists until the access token expires; without it the cookie
// lasts the browser session only.
func (h *AuthHandler) setSessionCookie(c *gin.Context, accessToken string, expiresAt time.Time, remember bool) {
	cookie := &http.Cookie{
		Name:     sessionCookie,
		Value:    accessToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Request.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
	if remember {
		cookie.Expires = expiresAt
		cookie.MaxAge = int(time.Until(expiresAt) / time.Second)
	}
	http.SetCookie(c.Writer, cookie)
}

func (h *AuthHandler) respondError(c *gin.Context, err error) {
	if authErr, ok := err.(*identity.AuthError); ok {
		c.JSON(authErr.Status, gin.H{"error": authErr.Code, "error_description": authErr.Description})
		return
	}
	h.Logger.Error("unhandled auth error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal error."})
}
