package worker

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/zlog"

	"github.com/formyhq/editflow/internal/billing"
	"github.com/formyhq/editflow/internal/config"
	"github.com/formyhq/editflow/internal/engine/remoteapi"
	"github.com/formyhq/editflow/internal/model"
	"github.com/formyhq/editflow/internal/pipeline"
	"github.com/formyhq/editflow/internal/queue"
	"github.com/formyhq/editflow/internal/storage/local"
	"github.com/formyhq/editflow/internal/task"
	"github.com/formyhq/editflow/internal/taskerr"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

type fixture struct {
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	queue *queue.Queue
	tasks *task.Service
	store *local.Storage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	dir := t.TempDir()
	store, err := local.NewStorage(filepath.Join(dir, "uploads"), filepath.Join(dir, "results"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	return &fixture{
		mr:    mr,
		rdb:   rdb,
		queue: queue.New(rdb, time.Hour),
		tasks: task.NewService(rdb, time.Hour, nil),
		store: store,
	}
}

func (f *fixture) uploadImage(t *testing.T) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 48, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 48; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: 90, B: 90, A: 255})
		}
	}

	tmp := filepath.Join(t.TempDir(), "img.jpg")
	file, err := os.Create(tmp)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := jpeg.Encode(file, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	file.Close()

	src, err := os.Open(tmp)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	fileID := uuid.New().String()
	if _, err := f.store.SaveUpload(context.Background(), "source", fileID+".jpg", src); err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	return fileID
}

func (f *fixture) enqueue(t *testing.T, payload model.TaskPayload) string {
	t.Helper()

	taskID, err := f.tasks.Create(context.Background(), payload)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.queue.Push(context.Background(), taskID, payload); err != nil {
		t.Fatalf("Push: %v", err)
	}
	return taskID
}

// runUntilTerminal runs the worker until the task reaches a terminal state.
func (f *fixture) runUntilTerminal(t *testing.T, w *Worker, taskID string) model.Task {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	deadline := time.After(10 * time.Second)
	for {
		got, err := f.tasks.Get(context.Background(), taskID)
		if err == nil && got.State.Terminal() {
			cancel()
			<-done
			return got
		}
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatalf("task %s never reached a terminal state", taskID)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestWorker_CompletesPoseChangeTask(t *testing.T) {
	f := newFixture(t)
	fileID := f.uploadImage(t)

	d := pipeline.NewDispatcher(map[model.EditMode]func() pipeline.Pipeline{
		model.ModePoseChange: func() pipeline.Pipeline { return pipeline.NewPoseChange(f.store) },
	})

	bills := billing.NewService(f.rdb, config.Billing{
		Enabled: true,
		Costs:   map[string]int{"POSE_CHANGE": 5},
		Plans:   []config.Plan{{Name: "starter", Credits: 50}},
	})
	if _, err := bills.Grant(context.Background(), "u1", "starter"); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	taskID := f.enqueue(t, model.TaskPayload{
		UserID:      "u1",
		Mode:        model.ModePoseChange,
		SourceImage: fileID,
	})

	w := New(f.queue, f.tasks, d, bills, 200*time.Millisecond, 50*time.Millisecond)
	got := f.runUntilTerminal(t, w, taskID)

	if got.State != model.StateCompleted {
		t.Fatalf("State = %s (error: %+v), want %s", got.State, got.Error, model.StateCompleted)
	}
	if got.Progress != 100 {
		t.Errorf("Progress = %d, want 100", got.Progress)
	}
	if got.Result == nil || got.Result.OutputImage == "" {
		t.Fatalf("Result = %+v, want an output image", got.Result)
	}
	if got.Result.ComparisonImage == "" {
		t.Error("ComparisonImage should be set")
	}

	// Credits are settled once on success.
	balance, err := bills.Balance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 45 {
		t.Errorf("Balance = %d, want 45", balance)
	}
}

func TestWorker_FailsTaskOnEngineError(t *testing.T) {
	f := newFixture(t)
	fileID := f.uploadImage(t)
	refID := f.uploadImage(t)

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	eng := remoteapi.New(config.RemoteEngine{
		URL:        srv.URL,
		RetryTimes: 3,
		RetryDelay: time.Millisecond,
	})
	d := pipeline.NewDispatcher(map[model.EditMode]func() pipeline.Pipeline{
		model.ModeHeadSwap: func() pipeline.Pipeline { return pipeline.NewHeadSwap(f.store, eng) },
	})

	taskID := f.enqueue(t, model.TaskPayload{
		Mode:        model.ModeHeadSwap,
		SourceImage: fileID,
		Config:      map[string]any{"reference_image": refID},
	})

	w := New(f.queue, f.tasks, d, nil, 200*time.Millisecond, 50*time.Millisecond)
	got := f.runUntilTerminal(t, w, taskID)

	if got.State != model.StateFailed {
		t.Fatalf("State = %s, want %s", got.State, model.StateFailed)
	}
	if got.Error == nil || got.Error.Code != string(taskerr.CodeEngineResponseError) {
		t.Fatalf("Error = %+v, want engine response error", got.Error)
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("engine hit %d times, want the full retry budget of 3", n)
	}
}

func TestWorker_FailsTaskWithoutPayload(t *testing.T) {
	f := newFixture(t)

	taskID, err := f.tasks.Create(context.Background(), model.TaskPayload{
		Mode:        model.ModePoseChange,
		SourceImage: "whatever",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Seed the pending list directly so the id arrives with no payload blob.
	if _, err := f.mr.Lpush("editflow:queue:pending", taskID); err != nil {
		t.Fatalf("Lpush: %v", err)
	}

	d := pipeline.NewDispatcher(map[model.EditMode]func() pipeline.Pipeline{})
	w := New(f.queue, f.tasks, d, nil, 200*time.Millisecond, 50*time.Millisecond)
	got := f.runUntilTerminal(t, w, taskID)

	if got.State != model.StateFailed {
		t.Fatalf("State = %s, want %s", got.State, model.StateFailed)
	}
	if got.Error == nil || got.Error.Code != string(taskerr.CodeTaskDataNotFound) {
		t.Fatalf("Error = %+v, want task data not found", got.Error)
	}
}

func TestWorker_FailsTaskOnUnknownMode(t *testing.T) {
	f := newFixture(t)

	taskID, err := f.tasks.Create(context.Background(), model.TaskPayload{
		Mode:        model.ModePoseChange,
		SourceImage: "img",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Payload with a mode nothing is registered for.
	raw, _ := json.Marshal(model.TaskPayload{Mode: "FACE_PAINT", SourceImage: "img"})
	if err := f.mr.Set("editflow:queue:payload:"+taskID, string(raw)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := f.mr.Lpush("editflow:queue:pending", taskID); err != nil {
		t.Fatalf("Lpush: %v", err)
	}

	d := pipeline.NewDispatcher(map[model.EditMode]func() pipeline.Pipeline{})
	w := New(f.queue, f.tasks, d, nil, 200*time.Millisecond, 50*time.Millisecond)
	got := f.runUntilTerminal(t, w, taskID)

	if got.State != model.StateFailed {
		t.Fatalf("State = %s, want %s", got.State, model.StateFailed)
	}
	if got.Error == nil || got.Error.Code != string(taskerr.CodeInvalidMode) {
		t.Fatalf("Error = %+v, want invalid mode", got.Error)
	}
}
