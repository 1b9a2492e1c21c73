package middleware

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SchemaValidator validates north-side requests against an embedded
// OpenAPI schema before they reach the classifier, closing the gap in
// the teacher's own spec-serving-without-validating handler.
type SchemaValidator struct {
	router routers.Router
}

// NewSchemaValidator parses specYAML (or JSON) and builds the path
// router used for request validation.
func NewSchemaValidator(specYAML []byte) (*SchemaValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid openapi spec: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}
	return &SchemaValidator{router: router}, nil
}

// Validate returns a gin middleware that rejects a request body failing
// schema validation with a 400 before any downstream handler runs.
func (v *SchemaValidator) Validate(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		route, pathParams, err := v.router.FindRoute(c.Request)
		if err != nil {
			// Undocumented routes (e.g. /healthz) pass through untouched.
			c.Next()
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
		}
		if len(body) > 0 {
			input.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
			if logger != nil {
				logger.Warn("request failed schema validation",
					zap.String("path", c.Request.URL.Path), zap.Error(err))
			}
			c.AbortWithStatusJSON(400, gin.H{
				"error": gin.H{
					"type":    "invalid_request_error",
					"message": summarizeValidationError(err),
				},
			})
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// summarizeValidationError trims kin-openapi's verbose schema-path
// error down to its first line for the client-facing message.
func summarizeValidationError(err error) string {
	msg := err.Error()
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	return "request body failed schema validation: " + msg
}
