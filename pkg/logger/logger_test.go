package logger

import (
	"context"
	"sync"
	"testing"
)

func TestDefaultLoggerConcurrentAccess(t *testing.T) {
	Init("production")

	var wg sync.WaitGroup
	const goroutines = 50

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Info("concurrent log message", FieldSessionID, "s1")
			_ = Get()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		Init("development")
	}()

	wg.Wait()
}

func TestGetReturnsCurrentLogger(t *testing.T) {
	Init("production")
	if Get() == nil {
		t.Fatal("Get() returned nil")
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	Init("production")
	if FromContext(context.Background()) != Get() {
		t.Error("FromContext without injected logger should return default")
	}
}

func TestWithContextRoundTrip(t *testing.T) {
	custom := With("component", "test")
	ctx := WithContext(context.Background(), custom)
	if FromContext(ctx) != custom {
		t.Error("FromContext should return the logger injected via WithContext")
	}
}
