package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lumabook/lumabook/pkg/auth"
	"github.com/lumabook/lumabook/pkg/models"
	"github.com/lumabook/lumabook/pkg/service"
)

// TokenHandler mints short-lived stream tokens for authenticated users.
type TokenHandler struct {
	tokens        *auth.StreamTokenService
	rate          *service.RateLimiter
	streamBaseURL string
	logger        *slog.Logger
}

func NewTokenHandler(tokens *auth.StreamTokenService, rate *service.RateLimiter, streamBaseURL string, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		tokens:        tokens,
		rate:          rate,
		streamBaseURL: streamBaseURL,
		logger:        logger,
	}
}

func (h *TokenHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/internal/stream-tokens", h.MintStreamToken)
}

// MintStreamToken handles POST /api/v1/internal/stream-tokens
//
// Minting draws from the same per-user bucket as message send, so token
// churn cannot be used to sidestep rate limiting.
func (h *TokenHandler) MintStreamToken(c *gin.Context) {
	userID := c.GetString(ContextUserID)

	if !h.rate.Allow(userID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": service.ErrRateLimited.Error()})
		return
	}

	token, expiresAt, err := h.tokens.Mint(userID)
	if err != nil {
		h.logger.Error("mint stream token failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mint stream token"})
		return
	}

	c.JSON(http.StatusOK, models.StreamTokenResponse{
		Token:         token,
		StreamBaseURL: h.streamBaseURL,
		ExpiresAt:     expiresAt.UTC(),
	})
}
