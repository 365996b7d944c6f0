package modelscope

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// asyncModeHeader switches the generation endpoint into task mode: the
// response carries a task id to poll instead of the finished image.
const asyncModeHeader = "X-ModelScope-Async-Mode"

// taskTypeHeader tells the task status endpoint which kind of task the
// id refers to.
const taskTypeHeader = "X-ModelScope-Task-Type"

// TaskError is the structured failure reported by a remote task.
type TaskError struct {
	Code    string
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("remote task failed: code=%s, message=%s", e.Code, e.Message)
}

// TimeoutError is returned when a task stays non-terminal past the poll
// deadline.
type TimeoutError struct {
	TaskID string
	Polls  int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("remote task timed out (task_id=%s, poll_count=%d)", e.TaskID, e.Polls)
}

// GenerateOptions are the parameters for text-to-image generation.
type GenerateOptions struct {
	Prompt         string
	NegativePrompt string
	Size           string // "<width>x<height>", e.g. "1024x1024"
	Steps          int
}

// GenerateResult is a finished generation: the artifact URL plus the
// remote task id that produced it.
type GenerateResult struct {
	ImageURL string
	TaskID   string
}

type generationRequest struct {
	Model          string   `json:"model"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Size           string   `json:"size,omitempty"`
	Steps          int      `json:"steps,omitempty"`
	ImageURL       []string `json:"image_url,omitempty"`
}

type taskSubmitResponse struct {
	TaskID string `json:"task_id"`
}

type taskStatusResponse struct {
	TaskStatus   string    `json:"task_status"`
	OutputImages []string  `json:"output_images"`
	Error        *apiError `json:"error"`
}

// GenerateImage submits a text-to-image task and polls it to completion.
func (c *Client) GenerateImage(ctx context.Context, opts GenerateOptions) (GenerateResult, error) {
	req := generationRequest{
		Model:          generateModel,
		Prompt:         opts.Prompt,
		NegativePrompt: strings.TrimSpace(opts.NegativePrompt),
		Size:           opts.Size,
		Steps:          opts.Steps,
	}

	taskID, err := c.submitGeneration(ctx, req)
	if err != nil {
		return GenerateResult{}, err
	}

	imageURL, err := c.PollTask(ctx, taskID)
	if err != nil {
		return GenerateResult{}, err
	}
	return GenerateResult{ImageURL: imageURL, TaskID: taskID}, nil
}

// EditImage submits an instruction-driven edit of the image at imageURL
// and polls it to completion, returning the edited image URL.
func (c *Client) EditImage(ctx context.Context, imageURL, prompt, size string, steps int) (string, error) {
	req := generationRequest{
		Model:    editModel,
		Prompt:   prompt,
		Size:     size,
		Steps:    steps,
		ImageURL: []string{imageURL},
	}

	taskID, err := c.submitGeneration(ctx, req)
	if err != nil {
		return "", err
	}
	return c.PollTask(ctx, taskID)
}

func (c *Client) submitGeneration(ctx context.Context, req generationRequest) (string, error) {
	headers := map[string]string{asyncModeHeader: "true"}

	var resp taskSubmitResponse
	if err := c.postJSON(ctx, "/v1/images/generations", req, headers, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("remote service returned no task_id")
	}

	c.logger.Debug("generation task submitted", "task_id", resp.TaskID, "model", req.Model)
	return resp.TaskID, nil
}

// PollTask drives a remote task to a terminal state.
//
// It checks the task status once per fixed poll interval (no backoff)
// until the task succeeds, fails, or the deadline passes. Transport
// errors on a status check are fatal and propagate immediately; only a
// still-pending status is retried. The elapsed time before a timeout is
// at most pollTimeout + pollInterval, since one final interval may
// elapse inside the last iteration before the deadline check.
func (c *Client) PollTask(ctx context.Context, taskID string) (string, error) {
	deadline := time.Now().Add(c.pollTimeout)
	headers := map[string]string{taskTypeHeader: "image_generation"}

	polls := 0
	for !time.Now().After(deadline) {
		polls++

		var status taskStatusResponse
		if err := c.getJSON(ctx, "/v1/tasks/"+taskID, headers, &status); err != nil {
			return "", err
		}

		switch status.TaskStatus {
		// The service reports SUCCEED on the wire; accept the spelled-out
		// form as well.
		case "SUCCEED", "SUCCEEDED":
			if len(status.OutputImages) == 0 {
				return "", fmt.Errorf("task %s succeeded but returned no image URL", taskID)
			}
			c.logger.Debug("generation task succeeded", "task_id", taskID, "polls", polls)
			return status.OutputImages[0], nil

		case "FAILED":
			taskErr := &TaskError{Message: "unknown"}
			if status.Error != nil {
				taskErr.Code = status.Error.Code
				taskErr.Message = status.Error.Message
			}
			c.logger.Debug("generation task failed", "task_id", taskID, "code", taskErr.Code, "message", taskErr.Message)
			return "", taskErr

		default:
			c.logger.Debug("generation task pending", "task_id", taskID, "status", status.TaskStatus, "polls", polls)
			time.Sleep(c.pollInterval)
		}
	}

	return "", &TimeoutError{TaskID: taskID, Polls: polls}
}
