// Package spawner defines the Spawner interface the orchestrator uses to
// launch an agent process for a session, plus two concrete
// implementations: a log spawner for local development and a webhook
// spawner for handing the launch off to an external agent execution
// runtime. Spawn calls are fire-and-forget from the orchestrator's
// perspective — it never blocks a session transition on a slow or
// failed spawn; a spawn failure is logged and never surfaces as an error
// a caller must handle inline.
package spawner

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/council-run/council-core/internal/council"
	"github.com/council-run/council-core/internal/model"
	apperrors "github.com/council-run/council-core/pkg/errors"
	"github.com/council-run/council-core/pkg/logger"
	"github.com/council-run/council-core/pkg/safego"
)

// LifecycleFunc receives lifecycle callbacks (agent:started/completed/
// errored) a Spawner implementation chooses to report back. Not every
// Spawner can observe every lifecycle stage — LogSpawner only ever
// reports agent:started, since it never actually runs anything.
type LifecycleFunc func(model.LifecycleEvent)

// Spawner launches an agent process for a SpawnTask.
type Spawner interface {
	// Spawn starts task asynchronously and returns immediately; the
	// spawn's own success or failure is reported, if at all, through the
	// LifecycleFunc passed to OnLifecycle.
	Spawn(ctx context.Context, task model.SpawnTask)

	// OnLifecycle registers fn to receive lifecycle events for agents this
	// Spawner launches. Only one callback is kept; a second call replaces
	// the first.
	OnLifecycle(fn LifecycleFunc)
}

// New builds the Spawner a council's SpawnerConfig selects. An SDK spawner
// is not implemented in-process (spec's external agent execution runtime
// is reached over the webhook spawner instead); SpawnerSDK falls back to
// LogSpawner with a warning so misconfiguration fails loud in the logs
// rather than silently dropping spawns.
func New(cfg council.SpawnerConfig) Spawner {
	switch cfg.Type {
	case council.SpawnerWebhook:
		return NewWebhookSpawner(cfg.WebhookURL, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	case council.SpawnerSDK:
		logger.Warn("spawner: sdk spawner type is not implemented in-process, falling back to log spawner")
		return NewLogSpawner()
	default:
		return NewLogSpawner()
	}
}

// ========================================
// LogSpawner
// ========================================

// LogSpawner logs the spawn request instead of launching anything. It is
// the default for local development and for councils exercised entirely
// by tests.
type LogSpawner struct {
	onLifecycle LifecycleFunc
}

// NewLogSpawner creates a LogSpawner.
func NewLogSpawner() *LogSpawner { return &LogSpawner{} }

func (s *LogSpawner) OnLifecycle(fn LifecycleFunc) { s.onLifecycle = fn }

func (s *LogSpawner) Spawn(_ context.Context, task model.SpawnTask) {
	logger.Info("spawner: would launch agent",
		logger.FieldSessionID, task.SessionID,
		logger.FieldAgentID, task.AgentID,
		"model", task.Model)
	if s.onLifecycle != nil {
		s.onLifecycle(model.LifecycleEvent{
			Type:      model.LifecycleAgentStarted,
			AgentID:   task.AgentID,
			SessionID: task.SessionID,
		})
	}
}

// ========================================
// WebhookSpawner
// ========================================

// WebhookSpawner POSTs the SpawnTask to an external agent execution
// runtime. It reports agent:started once the POST succeeds and
// agent:errored if the POST fails; it never reports agent:completed, since
// the agent's run finishes in that external runtime, outside this
// package's view.
type WebhookSpawner struct {
	url         string
	client      *http.Client
	onLifecycle LifecycleFunc
}

// NewWebhookSpawner creates a WebhookSpawner posting to url with the given
// request timeout (0 falls back to 30s).
func NewWebhookSpawner(url string, timeout time.Duration) *WebhookSpawner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookSpawner{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSpawner) OnLifecycle(fn LifecycleFunc) { s.onLifecycle = fn }

func (s *WebhookSpawner) Spawn(ctx context.Context, task model.SpawnTask) {
	safego.Go(func() {
		if err := s.post(ctx, task); err != nil {
			wrapped := apperrors.SpawnError("WebhookSpawner.Spawn", err)
			logger.Error("spawner: webhook spawn failed",
				logger.FieldSessionID, task.SessionID,
				logger.FieldAgentID, task.AgentID,
				logger.FieldError, wrapped)
			if s.onLifecycle != nil {
				s.onLifecycle(model.LifecycleEvent{
					Type:      model.LifecycleAgentErrored,
					AgentID:   task.AgentID,
					SessionID: task.SessionID,
					Error:     wrapped.Error(),
				})
			}
			return
		}
		if s.onLifecycle != nil {
			s.onLifecycle(model.LifecycleEvent{
				Type:      model.LifecycleAgentStarted,
				AgentID:   task.AgentID,
				SessionID: task.SessionID,
			})
		}
	})
}

func (s *WebhookSpawner) post(ctx context.Context, task model.SpawnTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apperrors.Newf("WebhookSpawner.post", "spawn webhook returned status %d", resp.StatusCode)
	}
	return nil
}
