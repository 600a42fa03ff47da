package browser

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func drain(ch <-chan struct{}) int {
	n := 0
	for range ch {
		n++
	}
	return n
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name        string
		events      []string
		changes     int
		activations int
	}{
		{"nothing", nil, 0, 0},
		{"one change", []string{eventChange}, 1, 0},
		{"activation", []string{eventActivate}, 0, 1},
		{"unknown payload", []string{"scroll"}, 0, 0},
		{"mixed", []string{eventChange, "scroll", eventActivate}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			events := make(chan string)
			changes := make(chan struct{}, 1)
			activations := make(chan struct{}, 1)
			done := make(chan struct{})
			go func() {
				route(ctx, nil, events, changes, activations, zap.NewNop())
				close(done)
			}()

			for _, ev := range tt.events {
				events <- ev
			}
			cancel()
			<-done

			if n := drain(changes); n != tt.changes {
				t.Errorf("changes = %d, want %d", n, tt.changes)
			}
			if n := drain(activations); n != tt.activations {
				t.Errorf("activations = %d, want %d", n, tt.activations)
			}
		})
	}
}

func TestRouteCoalescesPendingSignals(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan string)
	changes := make(chan struct{}, 1)
	activations := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		route(ctx, nil, events, changes, activations, zap.NewNop())
		close(done)
	}()

	// nobody reads changes, so a burst collapses into one pending signal
	for range 5 {
		events <- eventChange
	}
	cancel()
	<-done
	if n := drain(changes); n != 1 {
		t.Errorf("changes = %d, want 1", n)
	}
}

func TestRouteStopsWhenTabCloses(t *testing.T) {
	closed := make(chan struct{})
	changes := make(chan struct{}, 1)
	activations := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		route(context.Background(), closed, make(chan string), changes, activations, zap.NewNop())
		close(done)
	}()
	close(closed)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("route kept running for a closed tab")
	}
	if _, ok := <-changes; ok {
		t.Error("changes not closed")
	}
	if _, ok := <-activations; ok {
		t.Error("activations not closed")
	}
}

func TestProbeExpr(t *testing.T) {
	expr := probeExpr(150 * time.Millisecond)
	if !strings.HasSuffix(expr, ")(150)") {
		t.Errorf("probe expr ends with %q", expr[len(expr)-20:])
	}
	if !strings.Contains(expr, "window."+bindingName) {
		t.Error("probe does not call the binding")
	}
}

func TestScriptQuoting(t *testing.T) {
	expr := toastExpr(`Saved post by "Jane" </script>`, true)
	if !strings.Contains(expr, `"Saved post by \"Jane\" \u003c/script\u003e", true)`) {
		t.Errorf("toast expr = %s", expr[len(expr)-80:])
	}
	if got := fetchExpr("https://media.licdn.com/a.jpg?x=1&y=2"); !strings.HasSuffix(got, `("https://media.licdn.com/a.jpg?x=1\u0026y=2")`) {
		t.Errorf("fetch expr = %s", got[len(got)-60:])
	}
}
