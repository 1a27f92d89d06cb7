package pipeline

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/pdf-toolkit/internal/auth"
	"github.com/yourusername/pdf-toolkit/internal/users"
)

func newTestRouter(env *testEnv, user users.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(auth.ContextUserKey, user)
		c.Next()
	})
	router.POST("/api/files", UploadHandler(env.svc))
	router.GET("/api/files", ListFilesHandler(env.svc))
	router.DELETE("/api/files/:id", RemoveFileHandler(env.svc))
	router.PUT("/api/files/:id/range", PageSelectionHandler(env.svc))
	router.POST("/api/run", RunHandler(env.svc, HandlerOptions{}))
	router.POST("/api/run/batch", RunBatchHandler(env.svc))
	router.GET("/api/files/archive", ArchiveHandler(env.svc))
	return router
}

func testUser(perms users.Permissions) users.User {
	return users.User{Username: "tester", Role: users.RoleUser, Permissions: perms}
}

func TestUploadAndListHandlers(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env, testUser(users.FullPermissions()))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fileWriter, err := writer.CreateFormFile("files[]", "input.pdf")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := io.Copy(fileWriter, bytes.NewReader([]byte("%PDF-1.4 upload"))); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Files []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(created.Files) != 1 || created.Files[0].Status != "waiting" {
		t.Fatalf("unexpected upload response: %s", rec.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list status = %d", listRec.Code)
	}
	if !bytes.Contains(listRec.Body.Bytes(), []byte(created.Files[0].ID)) {
		t.Error("uploaded file missing from list")
	}
}

func TestPageSelectionHandler(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env, testUser(users.FullPermissions()))
	f := env.addFile(t, "doc.pdf", "application/pdf", []byte("%PDF doc"))

	req := httptest.NewRequest(http.MethodPut, "/api/files/"+f.ID+"/range",
		bytes.NewBufferString(`{"range":"1-3,5"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rec.Code, rec.Body.String())
	}
	state, _ := env.svc.Registry().Get(f.ID)
	if state.PageSelection != "1-3,5" {
		t.Errorf("pageSelection = %q", state.PageSelection)
	}
}

func TestRemoveFileHandlerNotFound(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env, testUser(users.FullPermissions()))

	req := httptest.NewRequest(http.MethodDelete, "/api/files/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRunBatchHandlerPermissionDenied(t *testing.T) {
	env := newTestEnv(t)
	perms := users.FullPermissions()
	perms.CanMerge = false
	router := newTestRouter(env, testUser(perms))
	a := env.addFile(t, "a.pdf", "application/pdf", []byte("%PDF a"))
	b := env.addFile(t, "b.pdf", "application/pdf", []byte("%PDF b"))

	payload, _ := json.Marshal(map[string]any{
		"jobIds":    []string{a.ID, b.ID},
		"operation": "merge",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/run/batch", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %s", rec.Code, rec.Body.String())
	}
	state, _ := env.svc.Registry().Get(a.ID)
	if state.Status != "waiting" {
		t.Errorf("status = %q, want waiting", state.Status)
	}
}

func TestRunHandlerReturnsJobState(t *testing.T) {
	env := newTestEnv(t)
	env.pdf.outputBytes = []byte("tiny")
	router := newTestRouter(env, testUser(users.FullPermissions()))
	f := env.addFile(t, "doc.pdf", "application/pdf", bytes.Repeat([]byte("d"), 100))

	payload, _ := json.Marshal(map[string]any{
		"jobId":     f.ID,
		"operation": "compress",
		"level":     "light",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/run", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		File struct {
			Status      string `json:"status"`
			DerivedSize int64  `json:"derivedSize"`
		} `json:"file"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.File.Status != "done" || resp.File.DerivedSize == 0 {
		t.Errorf("unexpected job state: %s", rec.Body.String())
	}
}

func TestArchiveHandlerRequiresDownloadPermission(t *testing.T) {
	env := newTestEnv(t)
	perms := users.FullPermissions()
	perms.CanDownloadBatch = false
	router := newTestRouter(env, testUser(perms))

	req := httptest.NewRequest(http.MethodGet, "/api/files/archive", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}
