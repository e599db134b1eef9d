package telephony

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"receptionist/internal/dialogue"
	"receptionist/internal/telemetry"
	"receptionist/pkg/logger"
)

// Dialogue is the call state machine the webhooks drive.
type Dialogue interface {
	OnIncoming(ctx context.Context, in dialogue.IncomingCall) dialogue.Response
	OnTurn(ctx context.Context, t dialogue.Turn) dialogue.Response
	OnStatus(ctx context.Context, u dialogue.StatusUpdate) (dialogue.StatusResult, error)
}

// VoiceHandler converts Twilio voice callbacks to dialogue signals and writes TwiML.
//
// No business logic here.
type VoiceHandler struct {
	Dialogue Dialogue
	Renderer Renderer
}

func (h VoiceHandler) HandleIncoming(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Dialogue == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dialogue not configured"})
		return
	}

	in, err := ParseIncoming(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		telemetry.WebhookEvents.WithLabelValues("incoming", "invalid").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	logger.Enrich(c, "call_sid", in.CallID.String())

	h.writeTwiML(c, "incoming", h.Dialogue.OnIncoming(c.Request.Context(), in))
}

func (h VoiceHandler) HandleGather(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Dialogue == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dialogue not configured"})
		return
	}

	t, err := ParseGather(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		telemetry.WebhookEvents.WithLabelValues("gather", "invalid").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	logger.Enrich(c, "call_sid", t.CallID.String())

	h.writeTwiML(c, "gather", h.Dialogue.OnTurn(c.Request.Context(), t))
}

// HandleStatus answers JSON: {"success": false} for unknown calls, 500 on persistence failure.
func (h VoiceHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Dialogue == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "dialogue not configured"})
		return
	}

	u, err := ParseStatus(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		telemetry.WebhookEvents.WithLabelValues("status", "invalid").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid form"})
		return
	}
	log = logger.Enrich(c, "call_sid", u.CallID.String(), "call_status", u.ProviderStatus)

	res, err := h.Dialogue.OnStatus(c.Request.Context(), u)
	if err != nil {
		log.Error("status callback failed", "err", err)
		telemetry.WebhookEvents.WithLabelValues("status", "error").Inc()
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal error"})
		return
	}
	if !res.Found {
		telemetry.WebhookEvents.WithLabelValues("status", "unknown_call").Inc()
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "Call session not found"})
		return
	}
	telemetry.WebhookEvents.WithLabelValues("status", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h VoiceHandler) writeTwiML(c *gin.Context, event string, resp dialogue.Response) {
	log := logger.FromGin(c)

	twiml, err := h.Renderer.Render(resp)
	if err != nil {
		log.Error("twiml render failed", "err", err, "action", resp.Action)
		telemetry.WebhookEvents.WithLabelValues(event, "error").Inc()
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	telemetry.WebhookEvents.WithLabelValues(event, string(resp.Action)).Inc()

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
