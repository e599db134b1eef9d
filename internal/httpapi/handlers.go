package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"receptionist/internal/audit"
	"receptionist/internal/auth"
	"receptionist/internal/orders"
	"receptionist/internal/rbac"
	"receptionist/internal/reporting"
	"receptionist/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Admin     auth.AdminAccount
	Reporting *reporting.Service
	Orders    *orders.Service

	// Audit is optional; failures are logged and never fail the request.
	Audit *audit.Service

	// Checks are run by Healthz; each is named in the response.
	Checks map[string]func(ctx context.Context) error
}

// --- Auth ---

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges the admin credentials for a JWT token pair.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || !h.Admin.Enabled() {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
		return
	}

	id, err := h.Admin.Authenticate(req.Email, req.Password)
	if err != nil {
		logger.FromGin(c).Warn("login rejected", "email", req.Email)
		h.record(c, func(ctx context.Context) error {
			return h.Audit.LogLoginFailed(ctx, strings.ToLower(strings.TrimSpace(req.Email)), c.ClientIP())
		})
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), id)
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	h.record(c, func(ctx context.Context) error {
		return h.Audit.LogLogin(ctx, id.UserID, id.Email, id.Role, c.ClientIP())
	})
	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.ExpiresAt,
		"user":          gin.H{"email": id.Email, "role": id.Role},
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh issues a new pair for a valid refresh token. The role is re-derived from the account.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil || !h.Admin.Enabled() {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	now := time.Now()
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, now)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	id := h.Admin.Identity()
	if claims.UserID != id.UserID {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	pair, err := h.Auth.IssuePair(now, id)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Dashboard ---

// Dashboard returns the aggregated metrics for the trailing ?days= window.
// RBAC: admin or analyst.
func (h Handlers) Dashboard(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	days := reporting.DefaultWindowDays
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "days must be an integer"})
			return
		}
		days = n
	}

	d, err := h.Reporting.ComputeDashboard(c.Request.Context(), days)
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromGin(c).Error("dashboard computation failed", "err", err, "days", days)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch metrics"})
		return
	}
	c.JSON(http.StatusOK, d)
}

// --- Orders ---

// CreateOrder records an order taken by staff, optionally linked to a call session.
// RBAC: admin or agent.
func (h Handlers) CreateOrder(c *gin.Context) {
	if h.Orders == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "orders not configured"})
		return
	}
	var req orders.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.CallerID) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "caller_id required"})
		return
	}

	o, err := h.Orders.Create(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, orders.ErrInvalidOrder) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromGin(c).Error("order creation failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "order creation failed"})
		return
	}
	h.record(c, func(ctx context.Context) error {
		userID, _ := auth.UserID(ctx)
		role, _ := auth.Role(ctx)
		var sessionID string
		if o.SessionID != nil {
			sessionID = string(*o.SessionID)
		}
		return h.Audit.LogOrderCreated(ctx, userID, role, c.ClientIP(), o.ID, sessionID)
	})
	c.JSON(http.StatusCreated, o)
}

// record appends an audit event when auditing is configured.
func (h Handlers) record(c *gin.Context, fn func(ctx context.Context) error) {
	if h.Audit == nil {
		return
	}
	if err := fn(c.Request.Context()); err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err)
	}
}

// --- Health ---

func (h Handlers) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := gin.H{}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			logger.FromGin(c).Warn("health check failed", "check", name, "err", err)
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	c.JSON(status, gin.H{"ok": status == http.StatusOK, "checks": results})
}

// Convenience middleware bundles.

func RequireAuthAndAnyRole(m *auth.Manager, roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{auth.RequireAccessToken(m), rbac.RequireAnyRole(roles...)}
}
