package requestid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected string
	}{
		{name: "with request ID", ctx: WithRequestID(context.Background(), "test-id-123"), expected: "test-id-123"},
		{name: "without request ID", ctx: context.Background(), expected: ""},
		{name: "with invalid type in context", ctx: context.WithValue(context.Background(), RequestIDKey, 12345), expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FromContext(tt.ctx))
		})
	}
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		keepHeader bool
	}{
		{name: "propagates caller id", header: "existing-request-id-456", keepHeader: true},
		{name: "generates when missing", header: ""},
		{name: "replaces oversized id", header: strings.Repeat("a", maxLength+1)},
		{name: "replaces id with spaces", header: "two words"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = FromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if tt.keepHeader {
				assert.Equal(t, tt.header, captured)
			} else {
				_, err := uuid.Parse(captured)
				assert.NoError(t, err, "generated ID should be a valid UUID")
			}
			assert.Equal(t, captured, rec.Header().Get(RequestIDHeader))
		})
	}
}
