package headless

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
)

func TestNewLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	fetcher, err := New(Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	if cap(fetcher.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(fetcher.limiter))
	}
}

func TestNewNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	fetcher, err := New(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	if got := fetcher.cfg.NavigationTimeout; got != 45*time.Second {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	t.Parallel()

	f := &Fetcher{limiter: make(chan struct{}, 1)}
	if err := f.acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.acquire(ctx); err == nil {
		t.Fatal("expected error when limiter is full and context canceled")
	}

	f.release()
	if err := f.acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error after release: %v", err)
	}
}

func TestDocumentStatusCapture(t *testing.T) {
	t.Parallel()

	meta := &documentStatus{}
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404},
	})
	if got := meta.status(); got != 0 {
		t.Fatalf("non-document response should be ignored, got %d", got)
	}

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 503},
	})
	if got := meta.status(); got != 503 {
		t.Fatalf("expected 503, got %d", got)
	}
}
