package service

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/theapemachine/mnemo/pkg/auth"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/memory"
	"github.com/theapemachine/mnemo/pkg/metrics"
	"github.com/theapemachine/mnemo/pkg/orchestrator"
	"github.com/theapemachine/mnemo/pkg/service/sse"
)

const principalKey = "principal"

type Config struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

type Turner interface {
	HandleTurn(ctx context.Context, turn orchestrator.Turn) <-chan orchestrator.Event
	Metrics() *metrics.TurnMetrics
}

type EpisodeReader interface {
	Current(ctx context.Context, scope memory.Scope) (*memory.Episode, error)
}

type Authenticator interface {
	Authenticate(header string) (auth.Principal, error)
	RetryAfter(user string) time.Duration
}

/*
Server is the HTTP surface of the engine. Turns stream back as server-sent
events, the rest is plain JSON.
*/
type Server struct {
	app       *fiber.App
	cfg       Config
	auth      Authenticator
	turner    Turner
	episodes  EpisodeReader
	retriever orchestrator.Retriever
	stats     map[string]func() any
	base      context.Context
}

type Option func(*Server)

/*
WithStats adds a named section to the metrics endpoint.
*/
func WithStats(name string, fn func() any) Option {
	return func(srv *Server) {
		srv.stats[name] = fn
	}
}

func NewServer(
	cfg Config,
	authenticator Authenticator,
	turner Turner,
	episodes EpisodeReader,
	retriever orchestrator.Retriever,
	opts ...Option,
) *Server {
	if cfg.Port == 0 {
		cfg.Port = 3210
	}

	srv := &Server{
		app: fiber.New(fiber.Config{
			AppName:      "mnemo",
			ServerHeader: "mnemo",
		}),
		cfg:       cfg,
		auth:      authenticator,
		turner:    turner,
		episodes:  episodes,
		retriever: retriever,
		stats:     map[string]func() any{},
		base:      context.Background(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.routes()

	return srv
}

func (srv *Server) App() *fiber.App {
	return srv.app
}

func (srv *Server) routes() {
	srv.app.Use(logger.New(logger.Config{
		// Streams log on completion which is long after the fact.
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/v1/turns" || c.Path() == "/livez"
		},
	}))

	srv.app.Get("/livez", func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	v1 := srv.app.Group("/v1", srv.authenticate)
	v1.Post("/turns", srv.handleTurn)
	v1.Get("/episodes/current", srv.handleCurrentEpisode)
	v1.Get("/memories/search", srv.handleSearch)
	v1.Get("/metrics", srv.handleMetrics)
}

/*
Start serves until ctx is cancelled, then shuts down gracefully. Turns in
flight inherit ctx so they persist what they have.
*/
func (srv *Server) Start(ctx context.Context) error {
	srv.base = ctx

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		if err := srv.app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "error", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", srv.cfg.Host, srv.cfg.Port)
	log.Info("http server listening", "addr", addr)

	return srv.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

func (srv *Server) authenticate(c fiber.Ctx) error {
	principal, err := srv.auth.Authenticate(c.Get(fiber.HeaderAuthorization))

	switch {
	case errors.Is(err, auth.ErrRateLimited):
		wait := srv.auth.RetryAfter(principal.User)
		c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%d", int(wait.Seconds())+1))
		return problem(c, fiber.StatusTooManyRequests, "rate limit exceeded")
	case err != nil:
		return problem(c, fiber.StatusUnauthorized, "unauthorized")
	}

	c.Locals(principalKey, principal)
	return c.Next()
}

/*
scope resolves the caller's scope. An explicit persona wins over the one in
the token.
*/
func scope(c fiber.Ctx, persona string) (memory.Scope, auth.Principal, bool) {
	principal, _ := c.Locals(principalKey).(auth.Principal)

	if strings.TrimSpace(persona) == "" {
		persona = principal.Persona
	}

	out := memory.Scope{User: principal.User, Persona: persona}

	return out, principal, out.Valid()
}

type turnRequest struct {
	Persona  string `json:"persona"`
	Message  string `json:"message"`
	Provider string `json:"provider"`
}

func (srv *Server) handleTurn(c fiber.Ctx) error {
	var request turnRequest

	if err := c.Bind().Body(&request); err != nil {
		return problem(c, fiber.StatusBadRequest, "invalid request body")
	}

	turnScope, principal, ok := scope(c, request.Persona)

	if !ok {
		return problem(c, fiber.StatusBadRequest, "persona is required")
	}

	ctx, cancel := context.WithCancel(srv.base)
	events := srv.turner.HandleTurn(ctx, orchestrator.Turn{
		Scope:    turnScope,
		Message:  request.Message,
		Tier:     principal.Tier,
		Provider: request.Provider,
	})

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		err := sse.Stream(w, events, func(event orchestrator.Event) string {
			return string(event.Kind)
		}, srv.cfg.Heartbeat)

		if err != nil {
			log.Info("client left mid-turn", "user", turnScope.User, "error", err)
		}
	})
}

func (srv *Server) handleCurrentEpisode(c fiber.Ctx) error {
	episodeScope, _, ok := scope(c, c.Query("persona"))

	if !ok {
		return problem(c, fiber.StatusBadRequest, "persona is required")
	}

	current, err := srv.episodes.Current(c.Context(), episodeScope)

	if err != nil {
		log.Error("episode lookup failed", "user", episodeScope.User, "error", err)
		return problem(c, fiber.StatusInternalServerError, "episode lookup failed")
	}

	if current == nil {
		return problem(c, fiber.StatusNotFound, "no active episode")
	}

	return c.JSON(current)
}

func (srv *Server) handleSearch(c fiber.Ctx) error {
	searchScope, _, ok := scope(c, c.Query("persona"))

	if !ok {
		return problem(c, fiber.StatusBadRequest, "persona is required")
	}

	query := c.Query("q")

	if strings.TrimSpace(query) == "" {
		return problem(c, fiber.StatusBadRequest, "q is required")
	}

	limit := fiber.Query[int](c, "limit", 5)

	if limit < 1 || limit > 20 {
		return problem(c, fiber.StatusBadRequest, "limit must be between 1 and 20")
	}

	ranked := srv.retriever.Retrieve(c.Context(), searchScope, query, limit)

	return c.JSON(fiber.Map{"query": query, "count": len(ranked), "results": ranked})
}

func (srv *Server) handleMetrics(c fiber.Ctx) error {
	out := fiber.Map{"turns": srv.turner.Metrics().GetMetrics()}

	for name, fn := range srv.stats {
		out[name] = fn()
	}

	return c.JSON(out)
}

func problem(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}
