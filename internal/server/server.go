package server

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/golang-jwt/jwt/v5"

	"github.com/beekhof/ics-sync/internal/ics"
	"github.com/beekhof/ics-sync/internal/sync"
)

// Syncer runs one sync pass for a user's calendar.
type Syncer interface {
	SyncCalendar(ctx context.Context, userID, calendarID string) (*sync.Stats, error)
}

// Server is the HTTP boundary of the sync engine.
type Server struct {
	app       *fiber.App
	syncer    Syncer
	jwtSecret []byte
}

// New builds the fiber app with CORS, request logging and bearer auth.
func New(syncer Syncer, jwtSecret string) *Server {
	s := &Server{
		syncer:    syncer,
		jwtSecret: []byte(jwtSecret),
	}

	app := fiber.New(fiber.Config{
		AppName: "ics-sync",
	})
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", s.requireUser)
	api.Post("/sync", s.handleSync)

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen blocks serving HTTP on addr.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// requireUser resolves the bearer token to a user identity before any I/O.
// Fatal errors use HTTP 200 with success:false so clients have one
// response shape to branch on.
func (s *Server) requireUser(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return failure(c, "missing authorization header")
	}

	// Transport layers may strip the trailing space of a bare "Bearer "
	// header, so the scheme is matched without it.
	rest, ok := strings.CutPrefix(header, "Bearer")
	if !ok || (rest != "" && !strings.HasPrefix(rest, " ")) {
		return failure(c, "malformed authorization header")
	}
	tokenString := strings.TrimSpace(rest)
	if tokenString == "" {
		return failure(c, "missing bearer token")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return failure(c, "invalid bearer token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return failure(c, "invalid token claims")
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return failure(c, "token carries no user identity")
	}

	c.Locals("user_id", userID)
	return c.Next()
}

type syncRequest struct {
	CalendarID string `json:"calendarId"`
}

type syncResponse struct {
	Success bool `json:"success"`
	*sync.Stats
}

func (s *Server) handleSync(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	var req syncRequest
	if err := c.BodyParser(&req); err != nil {
		return failure(c, "invalid request body")
	}
	if req.CalendarID == "" {
		return failure(c, "calendarId is required")
	}

	stats, err := s.syncer.SyncCalendar(c.Context(), userID, req.CalendarID)
	if err != nil {
		return failure(c, syncErrorMessage(err))
	}

	return c.JSON(syncResponse{Success: true, Stats: stats})
}

// syncErrorMessage maps the orchestrator's error taxonomy onto client
// strings without leaking internals.
func syncErrorMessage(err error) string {
	switch {
	case errors.Is(err, sync.ErrCalendarNotFound):
		return "calendar not found"
	case errors.Is(err, sync.ErrCalendarDisabled):
		return "calendar is disabled"
	case errors.Is(err, ics.ErrFetch):
		return "failed to fetch calendar feed: " + err.Error()
	case errors.Is(err, ics.ErrParse):
		return "failed to parse calendar feed: " + err.Error()
	default:
		return err.Error()
	}
}

func failure(c *fiber.Ctx, message string) error {
	return c.JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}
