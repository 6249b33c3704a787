package server

import (
	"io"
	"mime/multipart"
	"strings"
	"time"

	"everyday/internal/middleware"
	"everyday/internal/models"
	"everyday/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreatePostResponse is returned by both creation endpoints. Exactly one of
// Post and TaggedPost is set.
type CreatePostResponse struct {
	Success    bool         `json:"success"`
	Post       *models.Post `json:"post,omitempty"`
	TaggedPost *models.Post `json:"taggedPost,omitempty"`
	Message    string       `json:"message"`
}

// GetPosts handles GET /api/posts
// @Summary List daily posts
// @Description The owner's daily selfies, most recent first.
// @Tags posts
// @Produce json
// @Success 200 {object} map[string][]models.Post
// @Failure 500 {object} models.ErrorResponse
// @Router /posts [get]
func (s *Server) GetPosts(c *fiber.Ctx) error {
	posts, err := s.postService.ListPosts(c.UserContext(), models.PostKindDaily)
	if err != nil {
		return respondError(c, err)
	}
	if posts == nil {
		posts = []models.Post{}
	}
	return c.JSON(fiber.Map{"posts": posts})
}

// GetPost handles GET /api/posts/:id
// @Summary Get daily post
// @Tags posts
// @Produce json
// @Param id path string true "Post ID"
// @Success 200 {object} models.Post
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id} [get]
func (s *Server) GetPost(c *fiber.Ctx) error {
	post, err := s.postService.GetPost(c.UserContext(), models.PostKindDaily, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// CreateDailyPost handles POST /api/daily-posts
// @Summary Create today's post
// @Description Generates the owner's daily selfie. Called by the scheduler.
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Success 201 {object} CreatePostResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /daily-posts [post]
func (s *Server) CreateDailyPost(c *fiber.Ctx) error {
	post, err := s.postService.CreateDailyPost(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(CreatePostResponse{
		Success: true,
		Post:    &post,
		Message: "Daily post created successfully",
	})
}

// GetTaggedPosts handles GET /api/tagged-posts
// @Summary List collaborative posts
// @Tags tagged-posts
// @Produce json
// @Success 200 {object} map[string][]models.Post
// @Failure 500 {object} models.ErrorResponse
// @Router /tagged-posts [get]
func (s *Server) GetTaggedPosts(c *fiber.Ctx) error {
	posts, err := s.postService.ListPosts(c.UserContext(), models.PostKindTagged)
	if err != nil {
		return respondError(c, err)
	}
	if posts == nil {
		posts = []models.Post{}
	}
	return c.JSON(fiber.Map{"taggedPosts": posts})
}

// GetTaggedPost handles GET /api/tagged-posts/:id
func (s *Server) GetTaggedPost(c *fiber.Ctx) error {
	post, err := s.postService.GetPost(c.UserContext(), models.PostKindTagged, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// CreateTaggedPost handles POST /api/tagged-posts
// @Summary Create collaborative post
// @Description Generates a selfie of the visitor together with the owner.
// @Description Requests without apiKey count against the daily quota.
// @Tags tagged-posts
// @Accept multipart/form-data
// @Produce json
// @Param instagramHandle formData string true "Visitor handle"
// @Param userPrompt formData string false "Scene idea"
// @Param apiKey formData string false "Visitor's own generation API key"
// @Param selfie formData file true "Visitor selfie"
// @Success 201 {object} CreatePostResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /tagged-posts [post]
func (s *Server) CreateTaggedPost(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return respondError(c, models.NewValidationError("Expected a multipart form with a selfie"))
	}

	in := service.CreateTaggedPostInput{
		ClientID: middleware.ClientID(c),
		Handle:   firstValue(form.Value["instagramHandle"]),
		Prompt:   firstValue(form.Value["userPrompt"]),
		APIKey:   firstValue(form.Value["apiKey"]),
	}
	if in.APIKey == "" {
		in.APIKey = strings.TrimSpace(c.Get("X-Api-Key"))
	}
	if files := form.File["selfie"]; len(files) > 0 {
		in.Selfie, err = readUpload(files[0])
		if err != nil {
			return respondError(c, models.NewValidationError("Could not read the uploaded selfie"))
		}
	}

	post, err := s.postService.CreateTaggedPost(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(CreatePostResponse{
		Success:    true,
		TaggedPost: &post,
		Message:    "Tagged post created successfully",
	})
}

// WaitForTaggedPost handles GET /api/tagged-posts/:id/wait
// @Summary Wait for a collaborative post
// @Description Polls the collection until the post is visible. 202 means still pending.
// @Tags tagged-posts
// @Produce json
// @Param id path string true "Post ID"
// @Param attempts query int false "Maximum reads (1-100)"
// @Param interval_ms query int false "Delay between reads in ms (0-10000)"
// @Success 200 {object} service.PollResult
// @Success 202 {object} service.PollResult
// @Router /tagged-posts/{id}/wait [get]
func (s *Server) WaitForTaggedPost(c *fiber.Ctx) error {
	attempts := c.QueryInt("attempts", s.config.PollMaxAttempts)
	interval := time.Duration(c.QueryInt("interval_ms", s.config.PollIntervalMS)) * time.Millisecond

	result, err := s.postService.PollForPost(c.UserContext(), models.PostKindTagged, c.Params("id"), attempts, interval)
	if err != nil && result.Attempts == 0 {
		return respondError(c, err)
	}
	if result.Status == service.PollFound {
		return c.JSON(result)
	}
	return c.Status(fiber.StatusAccepted).JSON(result)
}

func readUpload(fh *multipart.FileHeader) (service.UploadImageInput, error) {
	f, err := fh.Open()
	if err != nil {
		return service.UploadImageInput{}, err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return service.UploadImageInput{}, err
	}
	return service.UploadImageInput{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Content:     data,
	}, nil
}
