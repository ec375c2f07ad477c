package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
)

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindPartial:
		return http.StatusMultiStatus
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the status its kind maps to.
func (h *Handler) writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	code := statusFor(kind)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.FullPath()).Error("internal error")
		msg = "internal error"
	}
	c.JSON(code, gin.H{"error": string(kind), "message": msg})
}
