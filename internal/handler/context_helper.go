package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-lms-api/internal/middleware"
	"github.com/noah-isme/sma-lms-api/internal/models"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
	"github.com/noah-isme/sma-lms-api/pkg/response"
)

// requireClaims writes 401 and returns nil when the route was reached
// without a verified caller.
func requireClaims(c *gin.Context) *models.JWTClaims {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
	}
	return claims
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
		return false
	}
	return true
}

func boolQuery(c *gin.Context, key string, fallback bool) (bool, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, key+" must be a boolean"))
		return false, false
	}
	return value, true
}

// timeQuery accepts RFC3339 timestamps. An absent value is the zero time.
func timeQuery(c *gin.Context, key string) (time.Time, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Time{}, true
	}
	value, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, key+" must be an RFC3339 timestamp"))
		return time.Time{}, false
	}
	return value, true
}
