package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/safar/settlement-core/internal/apperrors"
)

var kindStatus = map[apperrors.Kind]int{
	apperrors.KindInvalidSignature:  http.StatusBadRequest,
	apperrors.KindEmptySelection:    http.StatusBadRequest,
	apperrors.KindInvalidTransition: http.StatusBadRequest,
	apperrors.KindValidation:        http.StatusBadRequest,
	apperrors.KindForbidden:         http.StatusForbidden,
	apperrors.KindAddressNotFound:   http.StatusNotFound,
	apperrors.KindNotFound:          http.StatusNotFound,
	apperrors.KindDuplicatePayment:  http.StatusConflict,
	apperrors.KindInsufficientStock: http.StatusConflict,
	apperrors.KindGateway:           http.StatusBadGateway,
	apperrors.KindStorage:           http.StatusInternalServerError,
}

func StatusFor(kind apperrors.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes {"error", "kind", "details"}. Storage and gateway
// causes are logged, not returned.
func respondError(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)
	status := StatusFor(kind)

	body := gin.H{"kind": kind}
	var appErr *apperrors.Error
	errors.As(err, &appErr)
	switch {
	case status >= http.StatusInternalServerError:
		log.Error().Err(err).Str("kind", string(kind)).Str("path", c.FullPath()).Msg("request failed")
		body["error"] = http.StatusText(status)
	case appErr != nil:
		body["error"] = appErr.Message
		if len(appErr.Details) > 0 {
			body["details"] = appErr.Details
		}
	default:
		body["error"] = err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}

func bindError(c *gin.Context, err error) {
	respondError(c, apperrors.Validation("invalid request body").With("cause", err.Error()))
}
