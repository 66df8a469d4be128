package device

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/go-resty/resty/v2"
)

// Agent talks to an on-device HTTP automation bridge. Every command endpoint
// answers a JSON envelope {"success": bool, "message": string}; a false
// success is surfaced as an error with the bridge's message.
type Agent struct {
	client *resty.Client
	log    *slog.Logger
}

func NewAgent(baseURL string, log *slog.Logger) *Agent {
	if log == nil {
		log = slog.Default()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &Agent{client: client, log: log}
}

func (a *Agent) Connect(ctx context.Context, deviceID string) error {
	return a.post(ctx, "/connect", map[string]any{"serial": deviceID})
}

func (a *Agent) Tap(ctx context.Context, x, y int) error {
	return a.post(ctx, "/input/tap", map[string]any{"x": x, "y": y})
}

func (a *Agent) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	return a.post(ctx, "/input/swipe", map[string]any{
		"x1": x1, "y1": y1,
		"x2": x2, "y2": y2,
		"duration_ms": durationMs,
	})
}

// Screenshot fetches a PNG frame from the bridge and writes it to savePath.
func (a *Agent) Screenshot(ctx context.Context, savePath string) error {
	resp, err := a.client.R().SetContext(ctx).Get("/screenshot")
	if err != nil {
		return fmt.Errorf("agent screenshot: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("agent screenshot: status %d", resp.StatusCode())
	}
	if err := os.WriteFile(savePath, resp.Body(), 0o644); err != nil {
		return fmt.Errorf("writing screenshot: %w", err)
	}
	return nil
}

// RestartApp stops and relaunches a package. Stop failures are tolerated
// (the app may not be running); launch failures are not.
func (a *Agent) RestartApp(ctx context.Context, packageName string) error {
	if err := a.post(ctx, "/app/stop", map[string]any{"package": packageName}); err != nil {
		a.log.Warn("app stop failed, app may not be running",
			"package", packageName,
			"error", err)
	}
	if err := a.post(ctx, "/app/start", map[string]any{"package": packageName}); err != nil {
		return fmt.Errorf("launching %q: %w", packageName, err)
	}
	return nil
}

func (a *Agent) post(ctx context.Context, path string, body map[string]any) error {
	resp, err := a.client.R().SetContext(ctx).SetBody(body).Post(path)
	if err != nil {
		return fmt.Errorf("agent %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("agent %s: status %d", path, resp.StatusCode())
	}

	envelope, err := gabs.ParseJSON(resp.Body())
	if err != nil {
		return fmt.Errorf("agent %s: malformed response: %w", path, err)
	}
	if ok, _ := envelope.Path("success").Data().(bool); !ok {
		msg, _ := envelope.Path("message").Data().(string)
		if msg == "" {
			msg = "command rejected"
		}
		return fmt.Errorf("agent %s: %s", path, msg)
	}
	return nil
}
