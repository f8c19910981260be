package server

import (
	"errors"
	"net/http"

	"proxy-provisioner/pkg/models"
	"proxy-provisioner/pkg/proxy"
	"proxy-provisioner/pkg/registry"

	"github.com/gin-gonic/gin"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, proxy.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidLimit),
		errors.Is(err, models.ErrUnknownClass),
		errors.Is(err, proxy.ErrUnsupportedClass),
		errors.Is(err, registry.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrInvalidClassMapping),
		errors.Is(err, registry.ErrPortConflict),
		errors.Is(err, registry.ErrRangeExhausted),
		errors.Is(err, registry.ErrAlreadyRegistered):
		return http.StatusConflict
	case errors.Is(err, proxy.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, proxy.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, proxy.ErrUpstreamRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
