package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveClientID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		forwarded string
		realIP    string
		peer      string
		want      string
	}{
		{name: "first forwarded hop", forwarded: "203.0.113.7, 10.0.0.1, 10.0.0.2", realIP: "10.0.0.9", peer: "10.0.0.1", want: "203.0.113.7"},
		{name: "single forwarded", forwarded: "203.0.113.7", want: "203.0.113.7"},
		{name: "empty first hop falls through", forwarded: " , 10.0.0.1", realIP: "198.51.100.4", want: "198.51.100.4"},
		{name: "real ip", realIP: " 198.51.100.4 ", peer: "10.0.0.1", want: "198.51.100.4"},
		{name: "peer", peer: "10.0.0.1", want: "10.0.0.1"},
		{name: "nothing", want: UnknownClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ResolveClientID(tt.forwarded, tt.realIP, tt.peer))
		})
	}
}

func TestClientIdentity_Middleware(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Use(ClientIdentity())
	app.Get("/", func(c *fiber.Ctx) error {
		fromCtx, _ := c.UserContext().Value(ClientIDKey).(string)
		return c.SendString(ClientID(c) + "|" + fromCtx)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	resp, err := app.Test(req)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7|203.0.113.7", string(body))
}
