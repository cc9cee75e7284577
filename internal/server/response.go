package server

import (
	"errors"
	"net/http"

	"directchat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// envelope is the body of every API response.
type envelope struct {
	StatusCode int    `json:"statusCode"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Data       any    `json:"data"`
}

func ok(c *gin.Context, status int, msg string, data any) {
	c.JSON(status, envelope{StatusCode: status, Success: true, Message: msg, Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, envelope{StatusCode: status, Success: false, Message: msg})
}

// failErr maps a service error to its status. Unknown errors are logged and
// reported as a generic 500.
func failErr(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrEmailTaken):
		fail(c, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Str("op", op).Msg("request failed")
		fail(c, http.StatusInternalServerError, "Server Error")
	}
}
