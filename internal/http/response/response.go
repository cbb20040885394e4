package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	kind := ""
	if err != nil {
		msg = err.Error()
		kind = string(apperr.KindOf(err))
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
			Kind:    kind,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondAccepted(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

// StatusOf maps error kinds to HTTP status codes.
func StatusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAlgorithmUnsupported:
		return http.StatusUnprocessableEntity
	case apperr.KindCanceled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
