package kanboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// API is the capability surface of the Kanboard JSON-RPC interface that the
// task pipeline consumes. Client implements it against a real server; tests
// substitute a double.
type API interface {
	GetAllUsers(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, username, password, email string) (ID, error)
	AddGroupMember(ctx context.Context, groupID int, userID ID) error
	GetProjectByName(ctx context.Context, name string) (*Project, error)
	GetTask(ctx context.Context, taskID string) (*Task, error)
	CreateTask(ctx context.Context, req TaskRequest) (ID, error)
	OpenTask(ctx context.Context, taskID string) error
	CreateComment(ctx context.Context, taskID string, userID ID, content string) error
	UpdateTaskDueDate(ctx context.Context, taskID, dateDue string) error
	CreateTaskFile(ctx context.Context, projectID, taskID, filename, blob string) error
}

// Client talks JSON-RPC 2.0 to a Kanboard instance. Authentication uses HTTP
// Basic with the fixed username "jsonrpc" and the application API token as
// password, against the /jsonrpc.php endpoint below the configured base URL.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	requestID  atomic.Int64
}

var _ API = (*Client)(nil)

// NewClient creates a Kanboard API client for the given base URL and
// application API token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/jsonrpc.php",
		token:    token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int64  `json:"id"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("kanboard rpc error %d: %s", e.Code, e.Message)
}

// call performs one JSON-RPC round trip and returns the raw result.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		ID:      c.requestID.Add(1),
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.SetBasicAuth("jsonrpc", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", method, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%s: authentication failed (%d): check the API token", method, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: unmarshal response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, rpcResp.Error)
	}

	return rpcResp.Result, nil
}

// falsy reports whether a result encodes Kanboard's "not found / failed"
// answer rather than a record.
func falsy(result json.RawMessage) bool {
	switch strings.TrimSpace(string(result)) {
	case "", "null", "false", "0", `""`, "[]":
		return true
	}
	return false
}

func (c *Client) GetAllUsers(ctx context.Context) ([]User, error) {
	result, err := c.call(ctx, "getAllUsers", nil)
	if err != nil {
		return nil, err
	}
	if falsy(result) {
		return nil, nil
	}
	var users []User
	if err := json.Unmarshal(result, &users); err != nil {
		return nil, fmt.Errorf("getAllUsers: unmarshal result: %w", err)
	}
	return users, nil
}

func (c *Client) CreateUser(ctx context.Context, username, password, email string) (ID, error) {
	result, err := c.call(ctx, "createUser", map[string]string{
		"username": username,
		"password": password,
		"email":    email,
	})
	if err != nil {
		return "", err
	}
	var id ID
	if err := json.Unmarshal(result, &id); err != nil {
		return "", fmt.Errorf("createUser: unmarshal result: %w", err)
	}
	if !id.Valid() {
		return "", fmt.Errorf("createUser: server refused to create user %q", username)
	}
	return id, nil
}

func (c *Client) AddGroupMember(ctx context.Context, groupID int, userID ID) error {
	_, err := c.call(ctx, "addGroupMember", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
	})
	return err
}

func (c *Client) GetProjectByName(ctx context.Context, name string) (*Project, error) {
	result, err := c.call(ctx, "getProjectByName", map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	if falsy(result) {
		return nil, nil
	}
	var project Project
	if err := json.Unmarshal(result, &project); err != nil {
		return nil, fmt.Errorf("getProjectByName: unmarshal result: %w", err)
	}
	return &project, nil
}

func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	result, err := c.call(ctx, "getTask", map[string]string{"task_id": taskID})
	if err != nil {
		return nil, err
	}
	if falsy(result) {
		return nil, nil
	}
	var task Task
	if err := json.Unmarshal(result, &task); err != nil {
		return nil, fmt.Errorf("getTask: unmarshal result: %w", err)
	}
	return &task, nil
}

// CreateTask returns the zero ID without an error when the server answers
// false; the caller skips the attachment step for falsy task ids.
func (c *Client) CreateTask(ctx context.Context, req TaskRequest) (ID, error) {
	result, err := c.call(ctx, "createTask", req)
	if err != nil {
		return "", err
	}
	var id ID
	if err := json.Unmarshal(result, &id); err != nil {
		return "", fmt.Errorf("createTask: unmarshal result: %w", err)
	}
	return id, nil
}

func (c *Client) OpenTask(ctx context.Context, taskID string) error {
	_, err := c.call(ctx, "openTask", map[string]string{"task_id": taskID})
	return err
}

func (c *Client) CreateComment(ctx context.Context, taskID string, userID ID, content string) error {
	_, err := c.call(ctx, "createComment", map[string]any{
		"task_id": taskID,
		"user_id": userID,
		"content": content,
	})
	return err
}

func (c *Client) UpdateTaskDueDate(ctx context.Context, taskID, dateDue string) error {
	params := map[string]string{"id": taskID}
	if dateDue != "" {
		params["date_due"] = dateDue
	}
	_, err := c.call(ctx, "updateTask", params)
	return err
}

func (c *Client) CreateTaskFile(ctx context.Context, projectID, taskID, filename, blob string) error {
	_, err := c.call(ctx, "createTaskFile", map[string]string{
		"project_id": projectID,
		"task_id":    taskID,
		"filename":   filename,
		"blob":       blob,
	})
	return err
}
