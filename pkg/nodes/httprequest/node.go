// Package httprequest provides the API call action node.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
	"github.com/cortexbuild/cortexflow/pkg/template"
)

var errMissingURL = errors.New("missing required field 'url'")

const (
	defaultTimeout = 30
	maxBodyBytes   = 1 << 20
)

// Config is the typed configuration of an API call node.
type Config struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
	Timeout int               `json:"timeout"`
}

// Node performs one HTTP request per visit.
type Node struct {
	id     string
	config Config
	client *http.Client
}

// NewNode creates a new HTTP request node. A blank url is accepted so the node
// can sit unconfigured on a canvas; it fails when visited.
func NewNode(id string, config map[string]any, client *http.Client) (*Node, error) {
	cfg := Config{
		Method:  http.MethodGet,
		Timeout: defaultTimeout,
	}

	err := protocol.DecodeConfig(config, &cfg)
	if err != nil {
		return nil, err
	}

	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &Node{id: id, config: cfg, client: client}, nil
}

func (n *Node) ID() string {
	return n.id
}

// HTTPError represents a non-success HTTP response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Execute renders the request against the execution context and performs it.
func (n *Node) Execute(ctx context.Context, executionCtx *models.ExecutionContext) (models.NodeResult, error) {
	if strings.TrimSpace(n.config.URL) == "" {
		return models.NodeResult{}, errMissingURL
	}

	url, err := template.RenderStringWithContext(n.config.URL, executionCtx)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to render url: %w", err)
	}

	body, err := template.RenderStringWithContext(n.config.Body, executionCtx)
	if err != nil {
		return models.NodeResult{}, fmt.Errorf("failed to render body: %w", err)
	}

	headers := make(map[string]string, len(n.config.Headers))

	for key, value := range n.config.Headers {
		rendered, err := template.RenderStringWithContext(value, executionCtx)
		if err != nil {
			return models.NodeResult{}, fmt.Errorf("failed to render header %s: %w", key, err)
		}

		headers[key] = rendered
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(n.config.Timeout)*time.Second)
	defer cancel()

	data, err := n.performRequest(ctx, url, body, headers)
	if err != nil {
		return models.NodeResult{}, err
	}

	return models.NodeResult{Data: data}, nil
}

func (n *Node) performRequest(ctx context.Context, url, body string, headers map[string]string) (map[string]any, error) {
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, n.config.Method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	result := map[string]any{
		"status": resp.StatusCode,
		"body":   string(respBody),
	}

	var jsonBody any
	if err := json.Unmarshal(respBody, &jsonBody); err == nil {
		result["json"] = jsonBody
	}

	return result, nil
}
