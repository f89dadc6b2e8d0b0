package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veracitylab/factgate/pkg/store"
)

// detail is the error envelope for every non-2xx response.
type detail struct {
	Detail string `json:"detail"`
}

// abortError maps store-layer errors to HTTP responses.
func abortError(c *gin.Context, err error) {
	var validErr *store.ValidationError
	if errors.As(err, &validErr) {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, detail{Detail: validErr.Error()})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, detail{Detail: "resource not found"})
		return
	}
	if errors.Is(err, store.ErrAlreadyExists) {
		c.AbortWithStatusJSON(http.StatusConflict, detail{Detail: "resource already exists"})
		return
	}

	slog.Error("unexpected store error", "error", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, detail{Detail: "internal server error"})
}

// abortSchema rejects a request that fails schema validation.
func abortSchema(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, detail{Detail: msg})
}
