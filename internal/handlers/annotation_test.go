package handlers_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/hxat/annostore/internal/config"
	"github.com/hxat/annostore/internal/handlers"
	"github.com/hxat/annostore/internal/lti"
	"github.com/hxat/annostore/internal/middleware"
	"github.com/hxat/annostore/internal/models"
	"github.com/hxat/annostore/internal/store"
	"github.com/hxat/annostore/internal/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSessionSecret = "session-secret"

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.Annotation{},
		&models.AnnotationTag{},
		&models.UserStats{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}

// setupApp builds a fiber app wired like the server: session middleware,
// annotation routes, and the error envelope.
func setupApp(t *testing.T) (*fiber.App, *gorm.DB) {
	db := setupTestDB(t)

	cfg := &config.Config{
		StoreBackend:     config.BackendApp,
		GatherStatistics: true,
		ConsumerKey:      "consumer",
		LTISecret:        "lti-secret",
		SessionSecret:    testSessionSecret,
	}

	st, err := store.New(cfg, db, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to build store: %v", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			errorType := "unknown"
			var customErr *types.CustomError
			if errors.As(err, &customErr) {
				code = customErr.Code
				errorType = customErr.Type
			}
			return c.Status(code).JSON(fiber.Map{
				"status":    code,
				"message":   err.Error(),
				"ok":        false,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
				"url":       c.OriginalURL(),
				"type":      errorType,
			})
		},
	})

	handler := &handlers.AnnotationHandler{Store: st}
	api := app.Group("/annotation_api")
	api.Use(middleware.VersionMiddleware())
	api.Use(middleware.LTISession(testSessionSecret))
	api.Get("/", handler.Root)
	api.Get("/search", handler.Search)
	api.Post("/create", handler.Create)
	api.Get("/read/:annotation_id", handler.Read)
	api.Post("/update/:annotation_id", handler.Update)
	api.Delete("/delete/:annotation_id", handler.Delete)
	api.Delete("/destroy/:annotation_id", handler.Delete)

	return app, db
}

func sessionCookie(t *testing.T, sess *lti.Session) string {
	token, err := middleware.SignSession(sess, testSessionSecret)
	if err != nil {
		t.Fatalf("Failed to sign session: %v", err)
	}
	return middleware.SessionCookie + "=" + token
}

func studentSession(userID string) *lti.Session {
	return &lti.Session{ContextID: "course1", UserID: userID}
}

func doRequest(t *testing.T, app *fiber.App, method, target, cookie, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp.StatusCode, result
}

func annotationBody(userID, text string) string {
	return fmt.Sprintf(
		`{"contextId":"course1","collectionId":"col1","uri":"doc1","media":"text",`+
			`"user":{"id":%q,"name":"User"},"text":%q,"permissions":{"read":[]}}`,
		userID, text)
}

// TestAnnotationLifecycle walks an annotation through create, search, read,
// update, and delete.
func TestAnnotationLifecycle(t *testing.T) {
	app, db := setupApp(t)
	cookie := sessionCookie(t, studentSession("u1"))

	// create
	status, created := doRequest(t, app, "POST", "/annotation_api/create", cookie, annotationBody("u1", "first"))
	if status != 200 {
		t.Fatalf("Expected status 200 on create, got %d", status)
	}
	id := fmt.Sprintf("%.0f", created["id"].(float64))
	if created["deleted"] != false {
		t.Error("Expected new annotation to not be deleted")
	}

	// create feeds the stats accumulator
	var stats models.UserStats
	if err := db.First(&stats, "user_id = ? AND context_id = ?", "u1", "course1").Error; err != nil {
		t.Fatalf("Stats row not found after create: %v", err)
	}
	if stats.TotalAnnotations != 1 {
		t.Errorf("Expected 1 annotation counted, got %d", stats.TotalAnnotations)
	}

	// search
	status, result := doRequest(t, app, "GET", "/annotation_api/search?contextId=course1", cookie, "")
	if status != 200 {
		t.Fatalf("Expected status 200 on search, got %d", status)
	}
	if result["total"] != float64(1) {
		t.Errorf("Expected total 1, got %v", result["total"])
	}

	// read
	status, read := doRequest(t, app, "GET", "/annotation_api/read/"+id, cookie, "")
	if status != 200 {
		t.Fatalf("Expected status 200 on read, got %d", status)
	}
	if read["text"] != "first" {
		t.Errorf("Expected text 'first', got %v", read["text"])
	}

	// update
	status, updated := doRequest(t, app, "POST", "/annotation_api/update/"+id, cookie, annotationBody("u1", "second"))
	if status != 200 {
		t.Fatalf("Expected status 200 on update, got %d", status)
	}
	if updated["text"] != "second" {
		t.Errorf("Expected text 'second', got %v", updated["text"])
	}

	// delete
	status, deleted := doRequest(t, app, "DELETE", "/annotation_api/delete/"+id, cookie,
		`{"contextId":"course1","user":{"id":"u1"}}`)
	if status != 200 {
		t.Fatalf("Expected status 200 on delete, got %d", status)
	}
	if deleted["deleted"] != true {
		t.Error("Expected annotation to be flagged deleted")
	}

	// delete reverses the stats adjustment
	if err := db.First(&stats, "user_id = ? AND context_id = ?", "u1", "course1").Error; err != nil {
		t.Fatalf("Stats row not found after delete: %v", err)
	}
	if stats.TotalAnnotations != 0 {
		t.Errorf("Expected 0 annotations counted after delete, got %d", stats.TotalAnnotations)
	}
}

// TestMissingSessionRejected verifies requests without an LTI session never
// reach the store.
func TestMissingSessionRejected(t *testing.T) {
	app, _ := setupApp(t)

	status, result := doRequest(t, app, "GET", "/annotation_api/search?contextId=course1", "", "")
	if status != 403 {
		t.Fatalf("Expected status 403, got %d", status)
	}
	if result["type"] != "store.authorization.session" {
		t.Errorf("Expected session error type, got %v", result["type"])
	}
	if result["ok"] != false {
		t.Error("Expected ok=false in error envelope")
	}
}

// TestTamperedSessionRejected verifies a forged session cookie is refused.
func TestTamperedSessionRejected(t *testing.T) {
	app, _ := setupApp(t)

	sess := studentSession("u1")
	token, err := middleware.SignSession(sess, "wrong-secret")
	if err != nil {
		t.Fatalf("Failed to sign session: %v", err)
	}

	status, _ := doRequest(t, app, "GET", "/annotation_api/search?contextId=course1",
		middleware.SessionCookie+"="+token, "")
	if status != 403 {
		t.Fatalf("Expected status 403, got %d", status)
	}
}

// TestCourseMismatchRejected verifies the course scope check.
func TestCourseMismatchRejected(t *testing.T) {
	app, _ := setupApp(t)
	cookie := sessionCookie(t, studentSession("u1"))

	status, result := doRequest(t, app, "GET", "/annotation_api/search?contextId=other", cookie, "")
	if status != 403 {
		t.Fatalf("Expected status 403, got %d", status)
	}
	if result["type"] != "store.authorization.course" {
		t.Errorf("Expected course error type, got %v", result["type"])
	}
}

// TestUserMismatchRejected verifies students cannot write as someone else.
func TestUserMismatchRejected(t *testing.T) {
	app, _ := setupApp(t)
	cookie := sessionCookie(t, studentSession("u1"))

	status, result := doRequest(t, app, "POST", "/annotation_api/create", cookie, annotationBody("u2", "spoof"))
	if status != 403 {
		t.Fatalf("Expected status 403, got %d", status)
	}
	if result["type"] != "store.authorization.user" {
		t.Errorf("Expected user error type, got %v", result["type"])
	}
}

// TestRootReportsBackend verifies the API root identifies the deployment.
func TestRootReportsBackend(t *testing.T) {
	app, _ := setupApp(t)
	cookie := sessionCookie(t, studentSession("u1"))

	status, result := doRequest(t, app, "GET", "/annotation_api/", cookie, "")
	if status != 200 {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if result["backend"] != "app" {
		t.Errorf("Expected backend 'app', got %v", result["backend"])
	}
	if result["version"] != "1.0.0" {
		t.Errorf("Expected default api version 1.0.0, got %v", result["version"])
	}
}

// TestRootReportsVersionAlias verifies the X-Api-Version alias normalization.
func TestRootReportsVersionAlias(t *testing.T) {
	app, _ := setupApp(t)

	req := httptest.NewRequest("GET", "/annotation_api/", nil)
	req.Header.Set("Cookie", sessionCookie(t, studentSession("u1")))
	req.Header.Set(middleware.VersionHeader, "1.0")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}
	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result["version"] != "1.0.0" {
		t.Errorf("Expected alias to normalize to 1.0.0, got %v", result["version"])
	}
}

// TestDestroyAlias verifies the legacy delete route.
func TestDestroyAlias(t *testing.T) {
	app, _ := setupApp(t)
	cookie := sessionCookie(t, studentSession("u1"))

	status, created := doRequest(t, app, "POST", "/annotation_api/create", cookie, annotationBody("u1", "bye"))
	if status != 200 {
		t.Fatalf("Expected status 200 on create, got %d", status)
	}
	id := fmt.Sprintf("%.0f", created["id"].(float64))

	status, deleted := doRequest(t, app, "DELETE", "/annotation_api/destroy/"+id, cookie,
		`{"contextId":"course1","user":{"id":"u1"}}`)
	if status != 200 {
		t.Fatalf("Expected status 200 on destroy, got %d", status)
	}
	if deleted["deleted"] != true {
		t.Error("Expected annotation to be flagged deleted")
	}
}

// TestDeleteWithoutBodyRejected verifies a bodyless delete carries no claims
// to authorize and is refused before any row is touched.
func TestDeleteWithoutBodyRejected(t *testing.T) {
	app, db := setupApp(t)
	cookie := sessionCookie(t, studentSession("u1"))

	status, created := doRequest(t, app, "POST", "/annotation_api/create", cookie, annotationBody("u1", "keep me"))
	if status != 200 {
		t.Fatalf("Expected status 200 on create, got %d", status)
	}
	id := fmt.Sprintf("%.0f", created["id"].(float64))

	status, result := doRequest(t, app, "DELETE", "/annotation_api/delete/"+id, cookie, "")
	if status != 400 {
		t.Fatalf("Expected status 400, got %d", status)
	}
	if result["type"] != "store.badrequest" {
		t.Errorf("Expected badrequest error type, got %v", result["type"])
	}

	var anno models.Annotation
	if err := db.First(&anno, "id = ?", id).Error; err != nil {
		t.Fatalf("Annotation not found: %v", err)
	}
	if anno.IsDeleted {
		t.Error("Expected annotation to survive the rejected delete")
	}
}

// TestReadUnknownAnnotation verifies the 404 envelope.
func TestReadUnknownAnnotation(t *testing.T) {
	app, _ := setupApp(t)
	cookie := sessionCookie(t, studentSession("u1"))

	status, result := doRequest(t, app, "GET", "/annotation_api/read/999", cookie, "")
	if status != 404 {
		t.Fatalf("Expected status 404, got %d", status)
	}
	if result["type"] != "store.notfound" {
		t.Errorf("Expected notfound error type, got %v", result["type"])
	}
}
