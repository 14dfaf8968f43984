package edit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/zlog"

	"github.com/formyhq/editflow/internal/api/handlers/edit"
	"github.com/formyhq/editflow/internal/api/router"
	"github.com/formyhq/editflow/internal/billing"
	"github.com/formyhq/editflow/internal/config"
	"github.com/formyhq/editflow/internal/model"
	"github.com/formyhq/editflow/internal/queue"
	"github.com/formyhq/editflow/internal/storage/local"
	"github.com/formyhq/editflow/internal/task"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

type fixture struct {
	srv   *httptest.Server
	queue *queue.Queue
	tasks *task.Service
	store *local.Storage
	bills *billing.Service
}

func newFixture(t *testing.T, billingCfg config.Billing) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	dir := t.TempDir()
	store, err := local.NewStorage(filepath.Join(dir, "uploads"), filepath.Join(dir, "results"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	q := queue.New(rdb, time.Hour)
	tasks := task.NewService(rdb, time.Hour, nil)
	bills := billing.NewService(rdb, billingCfg)

	h := edit.NewHandler(store, tasks, q, bills, nil)
	srv := httptest.NewServer(router.Setup(h, store.ResultDir()))
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, queue: q, tasks: tasks, store: store, bills: bills}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeResult(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	var body struct {
		Result map[string]any `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body.Result
}

func TestCreateTask(t *testing.T) {
	f := newFixture(t, config.Billing{})

	resp := postJSON(t, f.srv.URL+"/api/edit", edit.EditRequest{
		UserID:      "u1",
		Mode:        "POSE_CHANGE",
		SourceImage: "file-1",
		Config:      map[string]any{"pose_image": "file-2"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	result := decodeResult(t, resp)
	taskID, _ := result["task_id"].(string)
	if taskID == "" {
		t.Fatal("response has no task_id")
	}

	got, err := f.tasks.Get(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != model.StateQueued {
		t.Errorf("State = %s, want %s", got.State, model.StateQueued)
	}

	n, err := f.queue.Len(context.Background())
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 1 {
		t.Errorf("queue length = %d, want 1", n)
	}
}

func TestCreateTask_Invalid(t *testing.T) {
	f := newFixture(t, config.Billing{})

	cases := []struct {
		name string
		req  edit.EditRequest
	}{
		{"unknown mode", edit.EditRequest{Mode: "FACE_PAINT", SourceImage: "f"}},
		{"missing source", edit.EditRequest{Mode: "POSE_CHANGE"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, f.srv.URL+"/api/edit", tc.req)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestCreateTask_InsufficientCredits(t *testing.T) {
	f := newFixture(t, config.Billing{
		Enabled: true,
		Costs:   map[string]int{"HEAD_SWAP": 10},
	})

	resp := postJSON(t, f.srv.URL+"/api/edit", edit.EditRequest{
		UserID:      "broke",
		Mode:        "HEAD_SWAP",
		SourceImage: "file-1",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}

	var body struct {
		Code       string `json:"code"`
		Suggestion string `json:"suggestion"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "INSUFFICIENT_CREDITS" {
		t.Errorf("code = %q, want INSUFFICIENT_CREDITS", body.Code)
	}
	if body.Suggestion == "" {
		t.Error("suggestion should be set")
	}
}

func TestGetTask(t *testing.T) {
	f := newFixture(t, config.Billing{})

	taskID, err := f.tasks.Create(context.Background(), model.TaskPayload{
		Mode:        model.ModePoseChange,
		SourceImage: "file-1",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp, err := http.Get(f.srv.URL + "/api/task/" + taskID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	result := decodeResult(t, resp)
	if result["state"] != string(model.StateQueued) {
		t.Errorf("state = %v, want QUEUED", result["state"])
	}

	resp, err = http.Get(f.srv.URL + "/api/task/unknown-id")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status for unknown task = %d, want 404", resp.StatusCode)
	}
}

func uploadRequest(t *testing.T, url, filename string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fmt.Fprint(part, "image-bytes")
	mw.Close()

	resp, err := http.Post(url+"/api/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST upload: %v", err)
	}
	return resp
}

func TestUpload(t *testing.T) {
	f := newFixture(t, config.Billing{})

	resp := uploadRequest(t, f.srv.URL, "portrait.jpg")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	result := decodeResult(t, resp)
	fileID, _ := result["file_id"].(string)
	if fileID == "" {
		t.Fatal("response has no file_id")
	}

	// The stored file must resolve back to a local path.
	path, err := f.store.Resolve(context.Background(), fileID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if filepath.Ext(path) != ".jpg" {
		t.Errorf("stored path = %s, want .jpg extension kept", path)
	}
}

func TestUpload_BadExtension(t *testing.T) {
	f := newFixture(t, config.Billing{})

	resp := uploadRequest(t, f.srv.URL, "malware.exe")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPlansAndHealth(t *testing.T) {
	f := newFixture(t, config.Billing{
		Plans: []config.Plan{{Name: "starter", Credits: 50}},
	})

	resp, err := http.Get(f.srv.URL + "/api/plans")
	if err != nil {
		t.Fatalf("GET plans: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("plans status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(f.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}
