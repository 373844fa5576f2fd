// Package toolbox loads optional remote tool manifests from an MCP toolbox server.
// Loading is best effort: an unreachable server or bad manifest yields an empty
// toolset and the service runs with its built-in tools only.
package toolbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/trip-weather-service/internal/observability"
)

// ErrUnavailable wraps every load failure.
var ErrUnavailable = errors.New("toolbox unavailable")

// maxManifestBytes caps the manifest body read from the server.
const maxManifestBytes = 1 << 20

// Parameter is one argument of a remote tool.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Tool is one remote tool from a manifest.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// Toolset is a loaded manifest. An empty Tools list is a normal mode.
type Toolset struct {
	Name          string `json:"name"`
	ServerVersion string `json:"serverVersion,omitempty"`
	Tools         []Tool `json:"tools"`
}

type manifest struct {
	ServerVersion string `json:"serverVersion"`
	Tools         map[string]struct {
		Description string      `json:"description"`
		Parameters  []Parameter `json:"parameters"`
	} `json:"tools"`
}

// Loader fetches toolset manifests from {baseURL}/api/toolset/{name}.
type Loader struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewLoader returns a loader for baseURL. An empty baseURL disables remote tools.
func NewLoader(baseURL string, timeout time.Duration, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Load returns the named toolset, or an empty one when it cannot be loaded.
func (l *Loader) Load(ctx context.Context, name string) Toolset {
	empty := Toolset{Name: name, Tools: []Tool{}}
	if l.baseURL == "" {
		observability.ToolsetLoadsTotal.WithLabelValues("disabled").Inc()
		l.logger.Info("toolbox url not configured, using built-in tools only", zap.String("toolset", name))
		return empty
	}

	ts, err := l.Fetch(ctx, name)
	if err != nil {
		observability.ToolsetLoadsTotal.WithLabelValues("error").Inc()
		l.logger.Warn("toolset load failed, continuing with built-in tools",
			zap.String("toolset", name),
			zap.String("url", l.baseURL),
			zap.Error(err),
		)
		return empty
	}

	result := "loaded"
	if len(ts.Tools) == 0 {
		result = "empty"
	}
	observability.ToolsetLoadsTotal.WithLabelValues(result).Inc()
	l.logger.Info("toolset loaded", zap.String("toolset", name), zap.Int("tools", len(ts.Tools)))
	return ts
}

// Fetch loads the named toolset and reports failures. Tools are sorted by name.
func (l *Loader) Fetch(ctx context.Context, name string) (Toolset, error) {
	if l.baseURL == "" {
		return Toolset{}, fmt.Errorf("%w: no url configured", ErrUnavailable)
	}
	endpoint := l.baseURL + "/api/toolset/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Toolset{}, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return Toolset{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Toolset{}, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	var m manifest
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManifestBytes)).Decode(&m); err != nil {
		return Toolset{}, fmt.Errorf("%w: decode manifest: %v", ErrUnavailable, err)
	}

	ts := Toolset{Name: name, ServerVersion: m.ServerVersion, Tools: make([]Tool, 0, len(m.Tools))}
	for toolName, t := range m.Tools {
		ts.Tools = append(ts.Tools, Tool{Name: toolName, Description: t.Description, Parameters: t.Parameters})
	}
	sort.Slice(ts.Tools, func(i, j int) bool { return ts.Tools[i].Name < ts.Tools[j].Name })
	return ts, nil
}
