// main.go
//
// Annotation storage facade for LTI courseware
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of annostore.
// annostore is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// annostore is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with annostore.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

package main

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	swagger "github.com/gofiber/swagger"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hxat/annostore/internal/config"
	"github.com/hxat/annostore/internal/database"
	"github.com/hxat/annostore/internal/handlers"
	"github.com/hxat/annostore/internal/middleware"
	"github.com/hxat/annostore/internal/store"
	"github.com/hxat/annostore/internal/types"
	"github.com/hxat/annostore/internal/utils"

	_ "github.com/hxat/annostore/docs/api" // Swagger docs
)

// @title Annostore API
// @version 1.0.0
// @description Annotation storage facade for LTI courseware
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url https://github.com/hxat/annostore
// @contact.email info@localnerve.com

// @license.name AGPL-3.0
// @license.url https://www.gnu.org/licenses/agpl-3.0.html

// @host localhost:3000
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey SessionAuth
// @in cookie
// @name lti_session

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	// The local database backs the app backend and the stats accumulator.
	// A catch deployment without statistics runs databaseless.
	var db *gorm.DB
	if cfg.StoreBackend == config.BackendApp || cfg.GatherStatistics {
		db, err = database.Connect(cfg)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer database.Close(db)

		if err := database.AutoMigrate(db); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	st, err := store.New(cfg, db, logger)
	if err != nil {
		logger.Fatal("Failed to initialize annotation store", zap.Error(err))
	}
	logger.Info("annotation store initialized", zap.String("backend", st.BackendName()))

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: false,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(compress.New())

	// Prometheus metrics
	prometheus := fiberprometheus.New("annostore")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	// Swagger documentation
	app.Get("/swagger/*", swagger.HandlerDefault)

	// Health endpoint, no session required
	app.Get("/health", func(c *fiber.Ctx) error {
		result := store.HealthCheck(cfg, db)
		status := fiber.StatusOK
		if result.Status != "healthy" {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(result)
	})

	// Annotation routes, all behind the LTI session
	annotationHandler := &handlers.AnnotationHandler{Store: st}

	api := app.Group("/annotation_api")
	api.Use(middleware.VersionMiddleware())
	api.Use(middleware.LTISession(cfg.SessionSecret))

	api.Get("/", annotationHandler.Root)
	api.Get("/search", annotationHandler.Search)
	api.Post("/create", annotationHandler.Create)
	api.Get("/read/:annotation_id", annotationHandler.Read)
	api.Post("/update/:annotation_id", annotationHandler.Update)
	api.Delete("/delete/:annotation_id", annotationHandler.Delete)
	// legacy route kept for older annotator clients
	api.Delete("/destroy/:annotation_id", annotationHandler.Delete)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return utils.NotFoundResponse(c, "[404] Resource Not Found")
	})

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		logger.Info("Gracefully shutting down...")
		_ = app.Shutdown()
	}()

	logger.Info("Starting server", zap.String("port", cfg.Port))
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// customErrorHandler handles errors globally
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()
	errorType := "unknown"

	// Check if it's a store error
	var customErr *types.CustomError
	if errors.As(err, &customErr) {
		code = customErr.Code
		message = customErr.Message
		errorType = customErr.Type
	} else if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return utils.ErrorResponse(c, message, code, errorType)
}
