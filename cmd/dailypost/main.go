// Command dailypost creates today's post. With -remote it calls a running
// server the way the scheduler does; otherwise it runs the pipeline in-process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"everyday/internal/bootstrap"
	"everyday/internal/config"
	"everyday/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

func main() {
	remote := flag.String("remote", "", "Base URL of a running server, e.g. https://everyday.example.com")
	timeout := flag.Duration("timeout", 3*time.Minute, "Generation timeout")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *remote != "" {
		os.Exit(callRemote(cfg, strings.TrimRight(*remote, "/"), *timeout))
	}

	os.Exit(runLocal(cfg, *timeout))
}

// runLocal builds the runtime and creates the post in this process.
func runLocal(cfg *config.Config, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{SeedBaseSelfie: !cfg.IsProduction()})
	if err != nil {
		log.Printf("Failed to initialize runtime: %v", err)
		return 1
	}
	defer func() { _ = rt.Close() }()

	post, err := rt.Posts.CreateDailyPost(ctx)
	if err != nil {
		log.Printf("Daily post failed: %v", err)
		return 1
	}

	out, _ := json.MarshalIndent(post, "", "  ")
	log.Printf("Daily post %s created:\n%s", post.ID, out)
	return 0
}

// callRemote posts to the daily endpoint with a freshly minted scheduler
// token and returns the process exit code.
func callRemote(cfg *config.Config, baseURL string, timeout time.Duration) int {
	token, err := middleware.IssueServiceToken(cfg.CronSecret, "dailypost-cli", middleware.ScopeDailyPost, 5*time.Minute)
	if err != nil {
		log.Printf("Failed to sign token: %v", err)
		return 1
	}

	agent := fiber.Post(baseURL + "/api/daily-posts").
		Set(fiber.HeaderAuthorization, "Bearer "+token).
		Timeout(timeout)
	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		log.Printf("Request failed: %v", errs[0])
		return 1
	}

	log.Printf("%d %s", status, body)
	if status != fiber.StatusCreated {
		return 1
	}
	return 0
}
