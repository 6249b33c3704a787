package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusForError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", NewValidationError("bad"), fiber.StatusBadRequest},
		{"unauthorized", NewUnauthorizedError("no"), fiber.StatusUnauthorized},
		{"forbidden", NewForbiddenError("no"), fiber.StatusForbidden},
		{"not found", NewNotFoundError("Post", "abc"), fiber.StatusNotFound},
		{"rate limited", NewRateLimitedError("ip_limit"), fiber.StatusTooManyRequests},
		{"unavailable", NewUnavailableError("off", nil), fiber.StatusServiceUnavailable},
		{"upstream", NewUpstreamError("model failed", errors.New("timeout")), fiber.StatusInternalServerError},
		{"wrapped", fmt.Errorf("handler: %w", NewNotFoundError("Post", 1)), fiber.StatusNotFound},
		{"plain", errors.New("boom"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StatusForError(tt.err))
		})
	}
}

func TestAppError_WrapsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := NewInternalError(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Internal server error: connection reset", err.Error())
	assert.Equal(t, "Post with ID 7 not found", NewNotFoundError("Post", 7).Error())
}

func TestNewRateLimitedError_Messages(t *testing.T) {
	t.Parallel()

	ip := NewRateLimitedError("ip_limit")
	global := NewRateLimitedError("global_limit")

	assert.Equal(t, "ip_limit", ip.Reason)
	assert.Equal(t, "global_limit", global.Reason)
	assert.NotEqual(t, ip.Message, global.Message)
}

func respond(t *testing.T, err error) (int, ErrorResponse) {
	t.Helper()

	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return RespondWithError(c, StatusForError(err), err)
	})

	resp, testErr := app.Test(httptest.NewRequest("GET", "/", nil), -1)
	require.NoError(t, testErr)
	defer func() { _ = resp.Body.Close() }()

	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, readErr)

	var out ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return resp.StatusCode, out
}

func TestRespondWithError(t *testing.T) {
	t.Parallel()

	t.Run("rate limited asks for an api key", func(t *testing.T) {
		t.Parallel()
		status, body := respond(t, NewRateLimitedError("global_limit"))
		assert.Equal(t, fiber.StatusTooManyRequests, status)
		assert.Equal(t, CodeRateLimited, body.Code)
		assert.Equal(t, "global_limit", body.Reason)
		assert.True(t, body.NeedsAPIKeyOverride)
	})

	t.Run("cause is not rendered", func(t *testing.T) {
		t.Parallel()
		status, body := respond(t, NewUpstreamError("Image generation failed", errors.New("api key sk-123 rejected")))
		assert.Equal(t, fiber.StatusInternalServerError, status)
		assert.Equal(t, "Image generation failed", body.Error)
		assert.NotContains(t, body.Error, "sk-123")
		assert.False(t, body.NeedsAPIKeyOverride)
	})

	t.Run("unknown errors are masked", func(t *testing.T) {
		t.Parallel()
		status, body := respond(t, errors.New("pq: relation does not exist"))
		assert.Equal(t, fiber.StatusInternalServerError, status)
		assert.Equal(t, "Internal server error", body.Error)
		assert.Equal(t, CodeInternal, body.Code)
	})
}
