package main

import (
	"log"
	"time"

	"emp-payments-backend/internal/app"
	"emp-payments-backend/internal/config"
	"emp-payments-backend/internal/jobs"
	"emp-payments-backend/internal/routes"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db := config.InitDB(cfg)
	if err := config.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	a := app.New(cfg, db)

	scheduler, err := jobs.StartReconcileScheduler(jobs.ReconcileConfig{
		Schedule: cfg.ReconcileCron,
		TimeZone: cfg.CronTimezone,
	}, a.Reconciler)
	if err != nil {
		log.Fatalf("Failed to start reconcile scheduler: %v", err)
	}
	defer scheduler.Stop()

	r := gin.Default()
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, a.Handler(), a.Authorizer())

	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
