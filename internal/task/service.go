// Package task owns the authoritative lifecycle record of every task:
// the QUEUED -> PROCESSING -> {COMPLETED | FAILED} state machine, monotonic
// progress, and the terminal result or error payload. Records live in the
// same Redis store as the queue, one hash per task.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/zlog"

	"github.com/formyhq/editflow/internal/model"
	"github.com/formyhq/editflow/internal/taskerr"
)

const taskKeyPrefix = "editflow:task:"

// ErrTaskNotFound is returned when no record exists for a task id.
var ErrTaskNotFound = errors.New("task not found")

// Publisher emits task lifecycle events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Service is the only component allowed to mutate task records.
type Service struct {
	client *redis.Client
	ttl    time.Duration
	events Publisher
}

// NewService creates a Service. ttl bounds the retention of task records;
// events may be nil to disable lifecycle publication.
func NewService(client *redis.Client, ttl time.Duration, events Publisher) *Service {
	return &Service{client: client, ttl: ttl, events: events}
}

// Create writes a new task record in state QUEUED and returns its id.
// This is the single point where a task comes into existence.
func (s *Service) Create(ctx context.Context, payload model.TaskPayload) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	configJSON, err := json.Marshal(payload.Config)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	fields := map[string]interface{}{
		"user_id":      payload.UserID,
		"mode":         string(payload.Mode),
		"source_image": payload.SourceImage,
		"config":       string(configJSON),
		"state":        string(model.StateQueued),
		"progress":     0,
		"step":         "",
		"created_at":   now.Format(time.RFC3339Nano),
		"updated_at":   now.Format(time.RFC3339Nano),
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, taskKeyPrefix+id, fields)
	pipe.Expire(ctx, taskKeyPrefix+id, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to create task record: %w", err)
	}

	s.publish(ctx, Event{TaskID: id, State: model.StateQueued, At: now})

	return id, nil
}

// Get loads the full task record.
func (s *Service) Get(ctx context.Context, id string) (model.Task, error) {
	fields, err := s.client.HGetAll(ctx, taskKeyPrefix+id).Result()
	if err != nil {
		return model.Task{}, fmt.Errorf("failed to read task %s: %w", id, err)
	}
	if len(fields) == 0 {
		return model.Task{}, fmt.Errorf("%s: %w", id, ErrTaskNotFound)
	}

	return taskFromFields(id, fields)
}

// Snapshot returns the read-only view served to the route layer.
func (s *Service) Snapshot(ctx context.Context, id string) (model.Snapshot, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return model.Snapshot{}, err
	}

	return model.Snapshot{
		ID:          t.ID,
		Mode:        t.Mode,
		State:       t.State,
		Progress:    t.Progress,
		CurrentStep: t.CurrentStep,
		Result:      t.Result,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}, nil
}

// MarkProcessing transitions a task from QUEUED to PROCESSING with
// progress 0. Called once by the worker right after a successful pop,
// before any engine work begins.
func (s *Service) MarkProcessing(ctx context.Context, id, step string) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.State.Terminal() {
		// Stale pop of an already finished task; nothing to do.
		return nil
	}

	return s.write(ctx, id, map[string]interface{}{
		"state":    string(model.StateProcessing),
		"progress": 0,
		"step":     step,
	}, Event{TaskID: id, State: model.StateProcessing})
}

// UpdateProgress records a progress/step update while PROCESSING.
// Progress never decreases; a lower value only refreshes the step label.
func (s *Service) UpdateProgress(ctx context.Context, id string, progress int, step string) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.State.Terminal() {
		return nil
	}

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress < t.Progress {
		progress = t.Progress
	}

	return s.write(ctx, id, map[string]interface{}{
		"state":    string(model.StateProcessing),
		"progress": progress,
		"step":     step,
	}, Event{TaskID: id, State: model.StateProcessing, Progress: progress})
}

// Complete transitions a task to COMPLETED with progress forced to 100 and
// stores the result artifact references. A duplicate call on an already
// terminal task is a no-op.
func (s *Service) Complete(ctx context.Context, id string, result model.TaskResult) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.State.Terminal() {
		return nil
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	return s.write(ctx, id, map[string]interface{}{
		"state":    string(model.StateCompleted),
		"progress": 100,
		"step":     "completed",
		"result":   string(resultJSON),
	}, Event{TaskID: id, State: model.StateCompleted, Progress: 100})
}

// Fail transitions a task to FAILED and stores the normalized error.
// A duplicate call on an already terminal task is a no-op. A QUEUED task
// may fail directly, without passing through PROCESSING: that is the path
// for tasks that can never start (payload lost, enqueue failed after the
// record was created).
func (s *Service) Fail(ctx context.Context, id string, failure *taskerr.Error) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.State.Terminal() {
		return nil
	}

	if failure == nil {
		failure = taskerr.New(taskerr.CodeUnknownError)
	}

	taskError := model.TaskError{
		Code:    string(failure.Code),
		Message: failure.Message,
		Details: failure.Details,
	}
	if suggestion := taskerr.Suggestion(failure.Code); suggestion != "" {
		if taskError.Details != "" {
			taskError.Details = suggestion + "\n" + taskError.Details
		} else {
			taskError.Details = suggestion
		}
	}

	errorJSON, err := json.Marshal(taskError)
	if err != nil {
		return fmt.Errorf("failed to marshal error: %w", err)
	}

	return s.write(ctx, id, map[string]interface{}{
		"state": string(model.StateFailed),
		"error": string(errorJSON),
	}, Event{TaskID: id, State: model.StateFailed, ErrorCode: taskError.Code})
}

// HealthCheck verifies the backing store is reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// write applies a field update, refreshes updated_at and publishes the
// corresponding lifecycle event.
func (s *Service) write(ctx context.Context, id string, fields map[string]interface{}, event Event) error {
	now := time.Now().UTC()
	fields["updated_at"] = now.Format(time.RFC3339Nano)

	if err := s.client.HSet(ctx, taskKeyPrefix+id, fields).Err(); err != nil {
		return fmt.Errorf("failed to update task %s: %w", id, err)
	}

	event.At = now
	s.publish(ctx, event)

	return nil
}

// publish sends a lifecycle event. Publication failures are logged and
// never fail the state transition itself.
func (s *Service) publish(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		zlog.Logger.Err(err).
			Str("task_id", event.TaskID).
			Str("state", string(event.State)).
			Msg("failed to publish task event")
	}
}

func taskFromFields(id string, fields map[string]string) (model.Task, error) {
	t := model.Task{
		ID:          id,
		UserID:      fields["user_id"],
		Mode:        model.EditMode(fields["mode"]),
		SourceImage: fields["source_image"],
		State:       model.TaskState(fields["state"]),
		CurrentStep: fields["step"],
	}

	if raw := fields["config"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &t.Config); err != nil {
			return model.Task{}, fmt.Errorf("failed to unmarshal config for %s: %w", id, err)
		}
	}

	if raw := fields["progress"]; raw != "" {
		progress, err := strconv.Atoi(raw)
		if err != nil {
			return model.Task{}, fmt.Errorf("invalid progress for %s: %w", id, err)
		}
		t.Progress = progress
	}

	if raw := fields["result"]; raw != "" {
		var result model.TaskResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return model.Task{}, fmt.Errorf("failed to unmarshal result for %s: %w", id, err)
		}
		t.Result = &result
	}

	if raw := fields["error"]; raw != "" {
		var taskError model.TaskError
		if err := json.Unmarshal([]byte(raw), &taskError); err != nil {
			return model.Task{}, fmt.Errorf("failed to unmarshal error for %s: %w", id, err)
		}
		t.Error = &taskError
	}

	if raw := fields["created_at"]; raw != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return model.Task{}, fmt.Errorf("invalid created_at for %s: %w", id, err)
		}
		t.CreatedAt = createdAt
	}
	if raw := fields["updated_at"]; raw != "" {
		updatedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return model.Task{}, fmt.Errorf("invalid updated_at for %s: %w", id, err)
		}
		t.UpdatedAt = updatedAt
	}

	return t, nil
}
