package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/panels/internal/model"
)

// HTTPClient implements Client using the panels HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// BaseURL returns the server address the client targets.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func componentPath(kind model.Kind, id string) string {
	p := "/api/" + url.PathEscape(string(kind))
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

func attributePath(kind model.Kind, id, attr string) string {
	return "/api/attributes/" + url.PathEscape(string(kind)) + "/" + url.PathEscape(id) + "/" + attr
}

// --- Components ---

func (c *HTTPClient) ListComponents(ctx context.Context, kind model.Kind) ([]*model.Component, error) {
	var list []*model.Component
	if err := c.doJSON(ctx, http.MethodGet, componentPath(kind, ""), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Types returns the field schema of every widget type.
func (c *HTTPClient) Types(ctx context.Context) ([]model.KindSchema, error) {
	var list []model.KindSchema
	if err := c.doJSON(ctx, http.MethodGet, "/api/types", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *HTTPClient) GetComponent(ctx context.Context, kind model.Kind, id string) (*model.Component, error) {
	var comp model.Component
	if err := c.doJSON(ctx, http.MethodGet, componentPath(kind, id), nil, &comp); err != nil {
		return nil, err
	}
	return &comp, nil
}

func (c *HTTPClient) CreateComponent(ctx context.Context, kind model.Kind, req *CreateComponentRequest) (*model.Component, error) {
	var comp model.Component
	if err := c.doJSON(ctx, http.MethodPost, componentPath(kind, ""), req, &comp); err != nil {
		return nil, err
	}
	return &comp, nil
}

func (c *HTTPClient) UpdateComponent(ctx context.Context, kind model.Kind, id string, req *UpdateComponentRequest) (*model.Component, error) {
	var comp model.Component
	if err := c.doJSON(ctx, http.MethodPut, componentPath(kind, id), req, &comp); err != nil {
		return nil, err
	}
	return &comp, nil
}

func (c *HTTPClient) UpdatePosition(ctx context.Context, kind model.Kind, id string, pos model.Position) (*model.Component, error) {
	var comp model.Component
	path := attributePath(kind, id, "position")
	if err := c.doJSON(ctx, http.MethodPut, path, pos, &comp); err != nil {
		return nil, err
	}
	return &comp, nil
}

func (c *HTTPClient) UpdateSize(ctx context.Context, kind model.Kind, id string, size model.Size) (*model.Component, error) {
	var comp model.Component
	path := attributePath(kind, id, "size")
	if err := c.doJSON(ctx, http.MethodPut, path, size, &comp); err != nil {
		return nil, err
	}
	return &comp, nil
}

func (c *HTTPClient) DeleteComponent(ctx context.Context, kind model.Kind, id string) error {
	return c.doJSON(ctx, http.MethodDelete, componentPath(kind, id), nil, nil)
}

// --- Map icons ---

func (c *HTTPClient) AddMapIcon(ctx context.Context, mapID string, icon model.MapIcon) (*model.Component, error) {
	var comp model.Component
	if err := c.doJSON(ctx, http.MethodPost, "/api/maps/"+url.PathEscape(mapID)+"/icons", icon, &comp); err != nil {
		return nil, err
	}
	return &comp, nil
}

func (c *HTTPClient) RemoveMapIcon(ctx context.Context, mapID, iconID string) (*model.Component, error) {
	var comp model.Component
	path := "/api/maps/" + url.PathEscape(mapID) + "/icons?id=" + url.QueryEscape(iconID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &comp); err != nil {
		return nil, err
	}
	return &comp, nil
}

// --- Dashboards ---

func (c *HTTPClient) ListDashboards(ctx context.Context, mine bool) ([]*model.Dashboard, error) {
	path := "/api/dashboards"
	if mine {
		path += "?owner=me"
	}
	var list []*model.Dashboard
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *HTTPClient) GetDashboard(ctx context.Context, id string) (*model.Dashboard, error) {
	var d model.Dashboard
	if err := c.doJSON(ctx, http.MethodGet, "/api/dashboards/"+url.PathEscape(id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) GetDashboardByPath(ctx context.Context, path string) (*model.Dashboard, error) {
	var d model.Dashboard
	if err := c.doJSON(ctx, http.MethodGet, "/api/dashboards?path="+url.QueryEscape(path), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) CreateDashboard(ctx context.Context, req *DashboardRequest) (*model.Dashboard, error) {
	var d model.Dashboard
	if err := c.doJSON(ctx, http.MethodPost, "/api/dashboards", req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) UpdateDashboard(ctx context.Context, id string, req *DashboardRequest) (*model.Dashboard, error) {
	var d model.Dashboard
	if err := c.doJSON(ctx, http.MethodPut, "/api/dashboards/"+url.PathEscape(id), req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) DeleteDashboard(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/dashboards/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) AttachComponent(ctx context.Context, dashboardID string, kind model.Kind, componentID string) (*model.Dashboard, error) {
	body := model.DashboardComponent{ComponentID: componentID, Type: kind}
	var d model.Dashboard
	if err := c.doJSON(ctx, http.MethodPost, "/api/dashboards/"+url.PathEscape(dashboardID)+"/components", body, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) DetachComponent(ctx context.Context, dashboardID, componentID string) error {
	path := "/api/dashboards/" + url.PathEscape(dashboardID) + "/components/" + url.PathEscape(componentID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// --- Auth ---

// Register creates an account. The returned token is also adopted by the
// client for subsequent requests.
func (c *HTTPClient) Register(ctx context.Context, req *Credentials) (*Session, error) {
	return c.startSession(ctx, "/api/register", req)
}

// SignIn exchanges credentials for a token, which the client adopts.
func (c *HTTPClient) SignIn(ctx context.Context, req *Credentials) (*Session, error) {
	return c.startSession(ctx, "/api/signin", req)
}

func (c *HTTPClient) startSession(ctx context.Context, path string, req *Credentials) (*Session, error) {
	var s Session
	if err := c.doJSON(ctx, http.MethodPost, path, req, &s); err != nil {
		return nil, err
	}
	c.token = s.Token
	return &s, nil
}

func (c *HTTPClient) SignOut(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodPost, "/api/signout", nil, nil); err != nil {
		return err
	}
	c.token = ""
	return nil
}

func (c *HTTPClient) ValidateToken(ctx context.Context) (*TokenInfo, error) {
	var info TokenInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/validateToken", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// --- Live ---

func (c *HTTPClient) LiveSenders(ctx context.Context, t model.LiveType) ([]string, error) {
	var senders []string
	if err := c.doJSON(ctx, http.MethodGet, "/api/live/"+url.PathEscape(string(t)), nil, &senders); err != nil {
		return nil, err
	}
	return senders, nil
}

func (c *HTTPClient) LiveHistory(ctx context.Context, t model.LiveType, sender string) ([]model.LiveEvent, error) {
	var evs []model.LiveEvent
	path := "/api/live/" + url.PathEscape(string(t)) + "/" + url.PathEscape(sender)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &evs); err != nil {
		return nil, err
	}
	return evs, nil
}

func (c *HTTPClient) ClearLive(ctx context.Context, t model.LiveType) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/live/"+url.PathEscape(string(t)), nil, nil)
}

func (c *HTTPClient) Presence(ctx context.Context, stale time.Duration, target string) (*PresenceResponse, error) {
	q := url.Values{}
	if stale > 0 {
		q.Set("stale_secs", strconv.Itoa(int(stale.Seconds())))
	}
	if target != "" {
		q.Set("target", target)
	}
	path := "/api/live/presence"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp PresenceResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded (for DELETE/204 responses).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	// 204 has no body.
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
