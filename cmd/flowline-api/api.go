// Package main provides the Flowline API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/flowlineio/flowline/pkg/engine"
	"github.com/flowlineio/flowline/pkg/eventbus"
	"github.com/flowlineio/flowline/pkg/executor"
	"github.com/flowlineio/flowline/pkg/persistence"
	"github.com/flowlineio/flowline/pkg/registry"
	"github.com/flowlineio/flowline/pkg/services"
	"github.com/flowlineio/flowline/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	actionRegistry := registry.NewDefaultRegistry(a.logger)

	definitionService := services.NewDefinition(a.persistence)
	templateService := services.NewTemplate(a.persistence)
	approvalService := services.NewApproval(a.persistence, a.eventBus, a.logger)

	stepExecutor := executor.NewExecutor(actionRegistry, approvalService, a.logger)
	workflowEngine := engine.NewEngine(
		a.persistence.DefinitionRepository(),
		a.persistence.InstanceRepository(),
		a.persistence.ApprovalRepository(),
		stepExecutor,
		a.eventBus,
		a.logger,
	)

	// Approval decisions resume the waiting step through the engine.
	approvalService.SetResolver(workflowEngine)

	handlers := web.NewAPIHandlers(
		definitionService,
		templateService,
		approvalService,
		workflowEngine,
		a.persistence.InstanceRepository(),
		a.validate,
		actionRegistry,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowline API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
