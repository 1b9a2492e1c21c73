//go:build !integration && !e2e
// +build !integration,!e2e

package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSpec = `
openapi: 3.0.3
info:
  title: test
  version: "1.0"
paths:
  /v1/chat/completions:
    post:
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [model, messages]
              properties:
                model:
                  type: string
                messages:
                  type: array
                  minItems: 1
      responses:
        "200":
          description: ok
`

func newValidatedRouter(t *testing.T) *gin.Engine {
	t.Helper()
	v, err := NewSchemaValidator([]byte(testSpec))
	require.NoError(t, err)

	router := gin.New()
	router.Use(v.Validate(nil))
	router.POST("/v1/chat/completions", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestSchemaValidator_RejectsMissingRequiredField(t *testing.T) {
	router := newValidatedRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte(`{"model":"gpt-4"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSchemaValidator_AllowsValidBody(t *testing.T) {
	router := newValidatedRouter(t)

	body := `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSchemaValidator_UndocumentedRoutePassesThrough(t *testing.T) {
	router := newValidatedRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
