package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/citizenspring/website/internal/email/inbound"
	"github.com/citizenspring/website/internal/models"
)

// bindInbound decodes the relay payload. Relays that forward the raw
// message post it as message/rfc822; the rest pre-parse it into JSON or
// form fields.
func bindInbound(c *gin.Context) (*models.InboundEmail, error) {
	contentType := c.ContentType()
	switch {
	case strings.Contains(contentType, "rfc822"):
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, err
		}
		return inbound.ParseRawMessage(raw)
	case strings.Contains(contentType, "json"):
		var email models.InboundEmail
		if err := c.ShouldBindJSON(&email); err != nil {
			return nil, err
		}
		return &email, nil
	default:
		var email models.InboundEmail
		if err := c.ShouldBind(&email); err != nil {
			return nil, err
		}
		return &email, nil
	}
}

// handleWebhook receives one inbound email from the mail relay.
// Duplicates answer 200 so the relay stops retrying them.
func (r *Router) handleWebhook(c *gin.Context) {
	email, err := bindInbound(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	result, err := r.processor.Process(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, models.ErrInvalidPayload) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		r.logger.Printf("api: webhook processing failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": result})
}
