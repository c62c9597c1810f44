package spawner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/council-run/council-core/internal/council"
	"github.com/council-run/council-core/internal/model"
)

func TestLogSpawnerReportsStarted(t *testing.T) {
	s := NewLogSpawner()
	events := make(chan model.LifecycleEvent, 1)
	s.OnLifecycle(func(e model.LifecycleEvent) { events <- e })

	s.Spawn(context.Background(), model.SpawnTask{AgentID: "cto", SessionID: "s1"})

	select {
	case e := <-events:
		if e.Type != model.LifecycleAgentStarted {
			t.Errorf("Type = %q, want agent:started", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lifecycle event")
	}
}

func TestWebhookSpawnerPostsTaskAndReportsStarted(t *testing.T) {
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSpawner(srv.URL, time.Second)
	events := make(chan model.LifecycleEvent, 1)
	s.OnLifecycle(func(e model.LifecycleEvent) { events <- e })

	s.Spawn(context.Background(), model.SpawnTask{AgentID: "cto", SessionID: "s1"})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("webhook server never received the spawn request")
	}
	select {
	case e := <-events:
		if e.Type != model.LifecycleAgentStarted {
			t.Errorf("Type = %q, want agent:started", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lifecycle event")
	}
}

func TestWebhookSpawnerReportsErroredOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewWebhookSpawner(srv.URL, time.Second)
	events := make(chan model.LifecycleEvent, 1)
	s.OnLifecycle(func(e model.LifecycleEvent) { events <- e })

	s.Spawn(context.Background(), model.SpawnTask{AgentID: "cto", SessionID: "s1"})

	select {
	case e := <-events:
		if e.Type != model.LifecycleAgentErrored {
			t.Errorf("Type = %q, want agent:errored", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lifecycle event")
	}
}

func TestNewFallsBackToLogSpawnerForUnknownType(t *testing.T) {
	s := New(council.SpawnerConfig{Type: council.SpawnerType("unknown")})
	if _, ok := s.(*LogSpawner); !ok {
		t.Fatalf("New(unknown) = %T, want *LogSpawner", s)
	}
}
