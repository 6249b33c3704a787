package server

import (
	"strings"

	"everyday/internal/artifact"
	"everyday/internal/middleware"
	"everyday/internal/models"

	"github.com/gofiber/fiber/v2"
)

const mediaPrefix = "public/"

// GetMedia handles GET /media/*
// Keys are write-once, so responses are cacheable indefinitely.
func (s *Server) GetMedia(c *fiber.Ctx) error {
	key := strings.TrimPrefix(c.Params("*"), "/")
	if !strings.HasPrefix(key, mediaPrefix) || strings.Contains(key, "..") {
		return respondError(c, models.NewNotFoundError("Artifact", key))
	}

	data, err := s.postService.ReadArtifact(c.UserContext(), key)
	if err != nil {
		return respondError(c, err)
	}

	c.Set(fiber.HeaderContentType, artifact.ContentType(key))
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	return c.Send(data)
}

// GetVisits handles GET /api/visits
// @Summary Visit count
// @Tags visits
// @Produce json
// @Success 200 {object} map[string]int64
// @Router /visits [get]
func (s *Server) GetVisits(c *fiber.Ctx) error {
	n, err := s.visitService.Count(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"visits": n})
}

// IncrementVisits handles POST /api/visits
// @Summary Record a visit
// @Tags visits
// @Produce json
// @Success 200 {object} map[string]int64
// @Failure 429 {object} models.ErrorResponse
// @Router /visits [post]
func (s *Server) IncrementVisits(c *fiber.Ctx) error {
	n, err := s.visitService.Increment(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"visits": n})
}

// GetFeatureFlags returns configured feature flags and their state for the caller.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	if s.featureFlags == nil {
		return c.JSON(fiber.Map{
			"raw":       map[string]string{},
			"evaluated": map[string]bool{},
		})
	}

	return c.JSON(fiber.Map{
		"raw":       s.featureFlags.Raw(),
		"evaluated": s.featureFlags.Snapshot(middleware.ClientID(c)),
	})
}
