package store

import (
	"fmt"
	"log"

	"github.com/hxat/annostore/internal/config"
	"github.com/hxat/annostore/internal/utils"
	"gorm.io/gorm"
)

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status       string            `json:"status"`
	Backend      string            `json:"backend"`
	Database     string            `json:"database,omitempty"`
	AnnotationDB string            `json:"annotation_db,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
	ErrorMessage string            `json:"error,omitempty"`
}

// HealthCheck checks the dependencies of the configured backend: the local
// database for app deployments (and any deployment gathering statistics),
// the remote annotation database for catch deployments.
func HealthCheck(cfg *config.Config, db *gorm.DB) HealthCheckResult {
	result := HealthCheckResult{
		Status:  "healthy",
		Backend: cfg.StoreBackend,
		Details: make(map[string]string),
	}

	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			result.Status = "unhealthy"
			result.Database = "error"
			result.Details["database_error"] = err.Error()
			result.ErrorMessage = fmt.Sprintf("Database connection error: %v", err)
			log.Printf("Health check failed - database connection: %v", err)
		} else {
			if err := sqlDB.Ping(); err != nil {
				result.Status = "unhealthy"
				result.Database = "unreachable"
				result.Details["database_ping_error"] = err.Error()
				result.ErrorMessage = fmt.Sprintf("Database ping failed: %v", err)
				log.Printf("Health check failed - database ping: %v", err)
			} else {
				result.Database = "ok"
				result.Details["database_type"] = cfg.DBType
				result.Details["database_name"] = cfg.DBDatabase
			}
		}
	}

	if cfg.StoreBackend == config.BackendCatch {
		if err := utils.PingAnnotationDB(cfg.AnnotationDBURL); err != nil {
			result.Status = "unhealthy"
			result.AnnotationDB = "unreachable"
			result.Details["annotation_db_error"] = err.Error()
			if result.ErrorMessage == "" {
				result.ErrorMessage = fmt.Sprintf("Annotation database ping failed: %v", err)
			} else {
				result.ErrorMessage += fmt.Sprintf("; Annotation database ping failed: %v", err)
			}
			log.Printf("Health check failed - annotation database ping: %v", err)
		} else {
			result.AnnotationDB = "ok"
			result.Details["annotation_db_url"] = cfg.AnnotationDBURL
		}
	}

	if result.Status == "healthy" {
		log.Println("Health check passed - all systems operational")
	}

	return result
}
