// Package main provides the caseflow API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/caseflow/caseflow/pkg/block"
	"github.com/caseflow/caseflow/pkg/eventbus"
	"github.com/caseflow/caseflow/pkg/gate"
	"github.com/caseflow/caseflow/pkg/graph"
	"github.com/caseflow/caseflow/pkg/persistence"
	"github.com/caseflow/caseflow/pkg/reconciler"
	"github.com/caseflow/caseflow/pkg/services"
	"github.com/caseflow/caseflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	store    persistence.Persistence
	eventBus eventbus.EventBus
	queue    *reconciler.Queue
	validate *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	queue *reconciler.Queue,
) *API {
	return &API{
		logger:   logger,
		store:    store,
		eventBus: eventBus,
		queue:    queue,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	emitter := eventbus.NewEmitter(a.eventBus, a.logger)
	resolver := gate.NewResolver(a.store.OrgRepository())

	generator := graph.NewGenerator(a.store.WorkflowRepository(), a.logger)
	engine := block.NewEngine(a.store, resolver, emitter, a.logger)
	requestGate := gate.NewRequestGate(a.store.RequestRepository(), resolver, emitter, a.logger)
	taskGate := gate.NewTaskGate(a.store.TaskRepository(), resolver, emitter, a.logger)
	rec := reconciler.NewReconciler(a.store, emitter, a.logger)

	requestService := services.NewRequestService(a.store, generator, engine, requestGate, emitter, a.logger)

	// The queue is optional; without it, completion reconciliation runs
	// inline in the request path.
	var enqueuer services.CompletionEnqueuer
	if a.queue != nil {
		enqueuer = a.queue
	}

	taskService := services.NewTaskService(a.store, rec, enqueuer, emitter, a.logger)

	handlers := web.NewAPIHandlers(requestService, taskService, taskGate, a.store, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Caseflow API")
	})

	r := app.Group("/requests")
	r.Post("/", handlers.SubmitRequest)
	r.Get("/:id/progress", handlers.GetRequestProgress)
	r.Post("/:id/validations/:level/approve", handlers.ApproveRequestValidation)
	r.Post("/:id/validations/:level/refuse", handlers.RefuseRequestValidation)

	tasks := app.Group("/tasks")
	tasks.Post("/status", handlers.BulkChangeTaskStatus)
	tasks.Patch("/:id/status", handlers.ChangeTaskStatus)
	tasks.Post("/:id/validation", handlers.SubmitTaskValidation)
	tasks.Post("/:id/validations/:level/approve", handlers.ApproveTaskValidation)
	tasks.Post("/:id/validations/:level/refuse", handlers.RefuseTaskValidation)
	tasks.Post("/:id/validations/:level/return", handlers.ReturnTaskForReview)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
