package taskdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskdesk HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organization_id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	DueDate        *string  `json:"due_date"`
	AssignedUsers  []string `json:"assigned_users"`
	Viewers        []string `json:"viewers"`
}

// CompletionField describes one input on a task's completion form.
type CompletionField struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Required     bool     `json:"required"`
	Options      []string `json:"options,omitempty"`
	MinValue     *float64 `json:"min_value,omitempty"`
	MaxValue     *float64 `json:"max_value,omitempty"`
	Initial      []string `json:"initial,omitempty"`
	ExistingFile *struct {
		OriginalFilename string `json:"original_filename"`
		Size             int64  `json:"size"`
	} `json:"existing_file,omitempty"`
}

// CompletionForm is a task's form prefilled with the caller's prior answers.
type CompletionForm struct {
	TaskID   string            `json:"task_id"`
	TaskName string            `json:"task_name"`
	Fields   []CompletionField `json:"fields"`
}

// Output is one stored answer.
type Output struct {
	ID               string `json:"id"`
	OutputFieldID    string `json:"output_field_id"`
	UserID           string `json:"user_id"`
	ValueText        string `json:"value_text,omitempty"`
	OriginalFilename string `json:"original_filename,omitempty"`
	FileSize         *int64 `json:"file_size,omitempty"`
	SubmittedAt      string `json:"submitted_at"`
}

// ChatMessage is one entry in a task discussion.
type ChatMessage struct {
	ID        int64  `json:"id"`
	TaskID    string `json:"task_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// MyTasks returns tasks the caller is assigned to.
func (c *Client) MyTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "v1/tasks/my/assigned", nil, &resp)
	return resp, err
}

// WatchedTasks returns tasks the caller is a viewer on.
func (c *Client) WatchedTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "v1/tasks/my/viewing", nil, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v1/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CompletionForm returns the caller's prefilled form for a task.
func (c *Client) CompletionForm(ctx context.Context, taskID string) (CompletionForm, error) {
	var resp CompletionForm
	endpoint := fmt.Sprintf("v1/tasks/%s/completion", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// FileValue attaches an upload to a Submit call, keyed by field id.
type FileValue struct {
	Filename string
	Content  io.Reader
}

// Submit posts form values and optional file uploads for a task.
// Values are keyed by field id; multi-select fields repeat values.
func (c *Client) Submit(ctx context.Context, taskID string, values map[string][]string, files map[string]FileValue) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for field, vals := range values {
		for _, v := range vals {
			if err := w.WriteField(field, v); err != nil {
				return err
			}
		}
	}
	for field, f := range files {
		part, err := w.CreateFormFile(field, f.Filename)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	endpoint := fmt.Sprintf("v1/tasks/%s/completion", url.PathEscape(taskID))
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.send(req, nil)
}

// MyOutputs returns the caller's stored answers across tasks.
func (c *Client) MyOutputs(ctx context.Context) ([]Output, error) {
	var resp []Output
	err := c.do(ctx, http.MethodGet, "v1/outputs/my", nil, &resp)
	return resp, err
}

// DownloadFile streams a stored file output. The caller closes the body.
func (c *Client) DownloadFile(ctx context.Context, outputID string) (io.ReadCloser, error) {
	endpoint := fmt.Sprintf("v1/outputs/%s/file", url.PathEscape(outputID))
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp.Body, nil
}

// Chat returns a task's discussion thread, oldest first.
func (c *Client) Chat(ctx context.Context, taskID string) ([]ChatMessage, error) {
	var resp []ChatMessage
	endpoint := fmt.Sprintf("v1/tasks/%s/chat", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// PostChat adds a message to a task's discussion.
func (c *Client) PostChat(ctx context.Context, taskID, message string) (ChatMessage, error) {
	var resp ChatMessage
	endpoint := fmt.Sprintf("v1/tasks/%s/chat", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"message": message}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := c.newRequest(ctx, method, endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) client() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
