package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/internal/service"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
	"github.com/noah-isme/auth-api/pkg/response"
)

// AuthHandler wires HTTP endpoints to the credential service.
type AuthHandler struct {
	service *service.AuthService
	metrics *service.MetricsService
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc *service.AuthService, metrics *service.MetricsService) *AuthHandler {
	return &AuthHandler{service: svc, metrics: metrics}
}

// Register godoc
// @Summary Register a new account
// @Description Create an unverified account and send a verification email
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Register payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid register payload"))
		return
	}

	user, err := h.service.Register(c.Request.Context(), req)
	h.observe("register", err)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, "account created, check your email to verify it", gin.H{"user": user})
}

// VerifyEmail godoc
// @Summary Verify email address
// @Description Consume a verification token
// @Tags Authentication
// @Produce json
// @Param token path string true "Verification token"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/verify-email/{token} [get]
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	err := h.service.VerifyEmail(c.Request.Context(), c.Param("token"))
	h.observe("verify_email", err)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "email verified, you can now log in", nil)
}

// ResendVerification godoc
// @Summary Resend verification email
// @Description Issue a fresh verification token and re-send the mail
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ResendVerificationRequest true "Resend payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /auth/resend-verification [post]
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req models.ResendVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	err := h.service.ResendVerificationEmail(c.Request.Context(), req.Email)
	h.observe("resend_verification", err)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "verification email sent again", nil)
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate by email and password, returns a token pair
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}

	res, err := h.service.Login(c.Request.Context(), req)
	h.observe("login", err)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "logged in", res)
}

// Refresh godoc
// @Summary Refresh token pair
// @Description Rotate a refresh token for a new access/refresh pair
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RefreshRequest true "Refresh payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid refresh payload"))
		return
	}

	pair, err := h.service.RefreshTokens(c.Request.Context(), req.RefreshToken)
	h.observe("refresh", err)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "", gin.H{"tokens": pair})
}

// Logout godoc
// @Summary Logout current session
// @Description Delete the refresh token if present; always succeeds
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RefreshRequest true "Refresh token"
// @Success 200 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "refresh token required"))
		return
	}

	err := h.service.Logout(c.Request.Context(), req.RefreshToken)
	h.observe("logout", err)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "logged out", nil)
}

// LogoutAll godoc
// @Summary Logout from all devices
// @Description Delete every refresh token for the authenticated account
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	err := h.service.LogoutAllDevices(c.Request.Context(), claims.UserID)
	h.observe("logout_all", err)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "logged out from all devices", nil)
}

// ForgotPassword godoc
// @Summary Forgot password
// @Description Initiate the reset flow; the response never reveals whether the email exists
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ForgotPasswordRequest true "Forgot password"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req models.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	msg, err := h.service.ForgotPassword(c.Request.Context(), req.Email)
	h.observe("forgot_password", err)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, msg, nil)
}

// ResetPassword godoc
// @Summary Reset password
// @Description Consume a reset token and set a new password; all sessions are invalidated
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ResetPasswordRequest true "Reset password"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req models.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	err := h.service.ResetPassword(c.Request.Context(), req)
	h.observe("reset_password", err)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "password reset, log in with your new password", nil)
}

// ChangePassword godoc
// @Summary Change password
// @Description Change the password for the current user; all sessions are invalidated
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ChangePasswordRequest true "Change password"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	err := h.service.ChangePassword(c.Request.Context(), claims.UserID, req)
	h.observe("change_password", err)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "password changed, log in again", nil)
}

// Me godoc
// @Summary Get current user
// @Description Returns the authenticated user's info from token claims
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	data := gin.H{
		"id":    claims.UserID,
		"email": claims.Email,
		"role":  claims.Role,
	}
	if sessions, err := h.service.ActiveSessions(c.Request.Context(), claims.UserID); err == nil {
		data["active_sessions"] = sessions
	}

	response.JSON(c, http.StatusOK, "", data)
}

func (h *AuthHandler) observe(operation string, err error) {
	if h.metrics == nil {
		return
	}
	h.metrics.ObserveAuthOperation(operation, err == nil)
}
