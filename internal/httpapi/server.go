// Package httpapi exposes the daemon's local control surface over HTTP.
package httpapi

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/matheus3301/replywatch/internal/scheduler"
	"github.com/matheus3301/replywatch/internal/store"
	"go.uber.org/zap"
)

// Trigger is the subset of the scheduler the API drives.
type Trigger interface {
	Trigger(reason string) bool
	Enable() error
	Disable() error
	UpdateSchedule(expr string) error
	Snapshot() scheduler.Status
}

// RunStore reads persisted run records.
type RunStore interface {
	ListRuns(limit int) ([]store.Run, error)
	GetRun(runID string) (*store.Run, error)
	LatestRun() (*store.Run, error)
}

// Resender redelivers the latest stored report.
type Resender interface {
	ResendLatestReport(ctx context.Context) (*store.Run, error)
}

// Server is the fiber app plus its collaborators.
type Server struct {
	app       *fiber.App
	scheduler Trigger
	runs      RunStore
	resender  Resender
	logger    *zap.Logger
}

// New builds the server and registers all routes.
func New(sched Trigger, runs RunStore, resender Resender, logger *zap.Logger) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			AppName:               "replywatchd",
		}),
		scheduler: sched,
		runs:      runs,
		resender:  resender,
		logger:    logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", s.handleHealth)

	api := s.app.Group("/api")
	api.Post("/runs", s.handleTriggerRun)
	api.Get("/runs", s.handleListRuns)
	api.Get("/runs/latest", s.handleLatestRun)
	api.Get("/runs/:id", s.handleGetRun)
	api.Get("/schedule", s.handleGetSchedule)
	api.Put("/schedule", s.handlePutSchedule)
	api.Post("/reports/resend", s.handleResend)
}

// Listen blocks serving the API on addr.
func (s *Server) Listen(addr string) error {
	s.logger.Info("control api listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

type runResponse struct {
	RunID           string `json:"run_id"`
	Trigger         string `json:"trigger"`
	Status          string `json:"status"`
	StartedAt       int64  `json:"started_at"`
	FinishedAt      int64  `json:"finished_at,omitempty"`
	WindowStart     int64  `json:"window_start"`
	WindowEnd       int64  `json:"window_end"`
	MessageCount    int    `json:"message_count"`
	UnansweredCount int    `json:"unanswered_count"`
	RankedCount     int    `json:"ranked_count"`
	ErrorDetail     string `json:"error_detail,omitempty"`
	Report          string `json:"report,omitempty"`
}

func toRunResponse(r *store.Run) runResponse {
	return runResponse{
		RunID:           r.RunID,
		Trigger:         r.Trigger,
		Status:          r.Status,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		WindowStart:     r.WindowStart,
		WindowEnd:       r.WindowEnd,
		MessageCount:    r.MessageCount,
		UnansweredCount: r.UnansweredCount,
		RankedCount:     r.RankedCount,
		ErrorDetail:     r.ErrorDetail,
		Report:          r.Report,
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleTriggerRun(c *fiber.Ctx) error {
	started := s.scheduler.Trigger("api")
	if !started {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"started": false,
			"error":   "a run is already in flight",
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"started": true})
}

func (s *Server) handleListRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 200 {
		limit = 20
	}
	runs, err := s.runs.ListRuns(limit)
	if err != nil {
		return s.internalError(c, "list runs", err)
	}
	out := make([]runResponse, 0, len(runs))
	for i := range runs {
		out = append(out, toRunResponse(&runs[i]))
	}
	return c.JSON(fiber.Map{"runs": out})
}

func (s *Server) handleLatestRun(c *fiber.Ctx) error {
	run, err := s.runs.LatestRun()
	if err != nil {
		return s.internalError(c, "latest run", err)
	}
	if run == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no runs yet"})
	}
	return c.JSON(toRunResponse(run))
}

func (s *Server) handleGetRun(c *fiber.Ctx) error {
	run, err := s.runs.GetRun(c.Params("id"))
	if err != nil {
		return s.internalError(c, "get run", err)
	}
	if run == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "run not found"})
	}
	return c.JSON(toRunResponse(run))
}

func (s *Server) handleGetSchedule(c *fiber.Ctx) error {
	return c.JSON(s.scheduler.Snapshot())
}

type scheduleRequest struct {
	Enabled    *bool   `json:"enabled"`
	Expression *string `json:"expression"`
}

func (s *Server) handlePutSchedule(c *fiber.Ctx) error {
	var req scheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	if req.Enabled == nil && req.Expression == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "nothing to update"})
	}

	// Validate the expression before flipping enabled so a bad expression
	// leaves the schedule fully untouched.
	if req.Expression != nil {
		if err := s.scheduler.UpdateSchedule(*req.Expression); err != nil {
			var invalid *scheduler.InvalidScheduleError
			if errors.As(err, &invalid) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": invalid.Error()})
			}
			return s.internalError(c, "update schedule", err)
		}
	}
	if req.Enabled != nil {
		var err error
		if *req.Enabled {
			err = s.scheduler.Enable()
		} else {
			err = s.scheduler.Disable()
		}
		if err != nil {
			return s.internalError(c, "toggle schedule", err)
		}
	}
	return c.JSON(s.scheduler.Snapshot())
}

func (s *Server) handleResend(c *fiber.Ctx) error {
	run, err := s.resender.ResendLatestReport(c.Context())
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"resent": true, "run_id": run.RunID})
}

func (s *Server) internalError(c *fiber.Ctx, op string, err error) error {
	s.logger.Error("api request failed", zap.String("op", op), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}
