package modelscope

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const ocrPrompt = "Extract all text from this image, preserving the original " +
	"formatting and structure. Output only the recognized text with no commentary."

const describePrompt = "Analyze this image and reply with a JSON object with two " +
	"fields: \"name\" (a short name for the image, at most a few words) and " +
	"\"description\" (a detailed description covering subjects, scene, colors and " +
	"mood). Reply with JSON only."

const locatePrompt = "Locate every instance of %q in this image. Reply with a " +
	"JSON array of bounding boxes, each an object with fields x1, y1, x2, y2 " +
	"using coordinates normalized to [0, 1]. Reply with JSON only."

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

// BoundingBox is a located object region, coordinates normalized to [0, 1].
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// chat sends one vision prompt about imageURL and returns the model's
// text content.
func (c *Client) chat(ctx context.Context, prompt, imageURL string) (string, error) {
	req := chatRequest{
		Model: visionModel,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &chatImageURL{URL: imageURL}},
			},
		}},
		Stream: false,
	}

	var resp chatCompletionResponse
	if err := c.postJSON(ctx, "/v1/chat/completions", req, nil, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return "", fmt.Errorf("model returned error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no content")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ExtractText runs OCR over the image at imageURL and returns the
// recognized text.
func (c *Client) ExtractText(ctx context.Context, imageURL string) (string, error) {
	return c.chat(ctx, ocrPrompt, imageURL)
}

// DescribeImage asks the vision model for a short name and a detailed
// description of the image. An optional focus string steers the model
// toward specific content. When the model's reply is not the expected
// JSON shape, the raw reply becomes the description under a placeholder
// name rather than failing the call.
func (c *Client) DescribeImage(ctx context.Context, imageURL, focus string) (name, description string, err error) {
	prompt := describePrompt
	if strings.TrimSpace(focus) != "" {
		prompt = fmt.Sprintf("%s Pay particular attention to: %s.", describePrompt, strings.TrimSpace(focus))
	}

	raw, err := c.chat(ctx, prompt, imageURL)
	if err != nil {
		return "", "", err
	}

	var parsed struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err == nil {
		if parsed.Name != "" && parsed.Description != "" {
			return strings.TrimSpace(parsed.Name), strings.TrimSpace(parsed.Description), nil
		}
	}
	return "fetched-image", raw, nil
}

// LocateObject returns bounding boxes for every instance of objectName
// found in the image.
func (c *Client) LocateObject(ctx context.Context, imageURL, objectName string) ([]BoundingBox, error) {
	raw, err := c.chat(ctx, fmt.Sprintf(locatePrompt, objectName), imageURL)
	if err != nil {
		return nil, err
	}

	var boxes []BoundingBox
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &boxes); err != nil {
		return nil, fmt.Errorf("failed to parse bounding boxes: %w (reply: %q)", err, raw)
	}
	return boxes, nil
}

// stripCodeFence removes a surrounding markdown code fence, which the
// model sometimes wraps around JSON replies.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
