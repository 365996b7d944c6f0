package modelscope

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base := []Option{
		WithAPIRoot(server.URL),
		WithPollInterval(10 * time.Millisecond),
		WithPollTimeout(time.Second),
	}
	return NewClient("test-key", testLogger(), append(base, opts...)...)
}

func TestPollTaskSucceedsAfterPending(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tasks/task-1", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "image_generation", r.Header.Get("X-ModelScope-Task-Type"))

		status := taskStatusResponse{TaskStatus: "RUNNING"}
		if calls.Add(1) == 3 {
			status = taskStatusResponse{
				TaskStatus:   "SUCCEED",
				OutputImages: []string{"https://cdn.example.com/a.png", "https://cdn.example.com/b.png"},
			}
		}
		json.NewEncoder(w).Encode(status)
	}))

	url, err := client.PollTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.png", url)
	assert.Equal(t, int64(3), calls.Load(), "two pending polls then success")
}

func TestPollTaskAcceptsSucceededSpelling(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(taskStatusResponse{
			TaskStatus:   "SUCCEEDED",
			OutputImages: []string{"https://cdn.example.com/a.png"},
		})
	}))

	url, err := client.PollTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.png", url)
}

func TestPollTaskSuccessWithoutURLIsFatal(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(taskStatusResponse{TaskStatus: "SUCCEED"})
	}))

	_, err := client.PollTask(context.Background(), "task-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image URL")
}

func TestPollTaskFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(taskStatusResponse{
			TaskStatus: "FAILED",
			Error:      &apiError{Code: "InvalidPrompt", Message: "prompt rejected"},
		})
	}))

	_, err := client.PollTask(context.Background(), "task-1")
	require.Error(t, err)

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "InvalidPrompt", taskErr.Code)
	assert.Equal(t, "prompt rejected", taskErr.Message)
}

func TestPollTaskFailureWithoutDetails(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(taskStatusResponse{TaskStatus: "FAILED"})
	}))

	_, err := client.PollTask(context.Background(), "task-1")

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Empty(t, taskErr.Code)
	assert.Equal(t, "unknown", taskErr.Message)
}

func TestPollTaskTimeout(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(taskStatusResponse{TaskStatus: "RUNNING"})
	}), WithPollTimeout(100*time.Millisecond), WithPollInterval(20*time.Millisecond))

	start := time.Now()
	_, err := client.PollTask(context.Background(), "stuck-task")
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "stuck-task", timeoutErr.TaskID)
	// ceil(timeout/interval) = 5, allow ±1 for scheduling jitter.
	assert.InDelta(t, 5, timeoutErr.Polls, 1)
	// Elapsed time is bounded by timeout + one interval (plus slack).
	assert.Less(t, elapsed, 100*time.Millisecond+20*time.Millisecond+100*time.Millisecond)
}

func TestPollTaskTransportErrorIsFatal(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))

	_, err := client.PollTask(context.Background(), "task-1")
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load(), "transport failures are not retried")
}

func TestGenerateImageSubmitsThenPolls(t *testing.T) {
	var statusCalls atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/images/generations":
			require.Equal(t, "true", r.Header.Get("X-ModelScope-Async-Mode"))

			var req generationRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, generateModel, req.Model)
			assert.Equal(t, "a red fox", req.Prompt)
			assert.Equal(t, "1024x1024", req.Size)

			json.NewEncoder(w).Encode(taskSubmitResponse{TaskID: "gen-42"})

		case "/v1/tasks/gen-42":
			status := taskStatusResponse{TaskStatus: "PENDING"}
			if statusCalls.Add(1) >= 2 {
				status = taskStatusResponse{
					TaskStatus:   "SUCCEED",
					OutputImages: []string{"https://cdn.example.com/fox.png"},
				}
			}
			json.NewEncoder(w).Encode(status)

		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	result, err := client.GenerateImage(context.Background(), GenerateOptions{
		Prompt: "a red fox",
		Size:   "1024x1024",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/fox.png", result.ImageURL)
	assert.Equal(t, "gen-42", result.TaskID)
}

func TestGenerateImageMissingTaskID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(taskSubmitResponse{})
	}))

	_, err := client.GenerateImage(context.Background(), GenerateOptions{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task_id")
}

func TestEditImageSendsSourceURL(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/images/generations":
			var req generationRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, editModel, req.Model)
			assert.Equal(t, []string{"https://example.com/src.png"}, req.ImageURL)
			json.NewEncoder(w).Encode(taskSubmitResponse{TaskID: "edit-7"})

		case "/v1/tasks/edit-7":
			json.NewEncoder(w).Encode(taskStatusResponse{
				TaskStatus:   "SUCCEED",
				OutputImages: []string{"https://cdn.example.com/edited.png"},
			})
		}
	}))

	url, err := client.EditImage(context.Background(), "https://example.com/src.png", "remove the background", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/edited.png", url)
}

func TestTaskErrorIsNotTimeout(t *testing.T) {
	err := error(&TaskError{Code: "X", Message: "y"})
	var timeoutErr *TimeoutError
	assert.False(t, errors.As(err, &timeoutErr))
}
