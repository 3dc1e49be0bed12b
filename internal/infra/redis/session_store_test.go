package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(newClient(mr), time.Minute, nil)

	_, created := store.GetOrCreate("s-1", func() *app.Session {
		return app.NewSession(domain.SessionRecord{ID: "s-1", HostID: "h", QuizID: "quiz-1", Pin: "778899"}, sampleQuiz().Questions)
	})
	if !created {
		t.Fatalf("expected session created")
	}
	if !mr.Exists("quiz:session:s-1") {
		t.Fatalf("expected redis key to be set")
	}
	if got, _ := mr.Get("quiz:pin:778899"); got != "s-1" {
		t.Fatalf("expected pin key to point at s-1, got %q", got)
	}
	if id, ok := store.LookupPin("778899"); !ok || id != "s-1" {
		t.Fatalf("expected pin lookup to resolve, got %q %v", id, ok)
	}

	store.Delete("s-1")
	if mr.Exists("quiz:session:s-1") || mr.Exists("quiz:pin:778899") {
		t.Fatalf("expected redis keys to be removed")
	}
	if _, ok := store.Get("s-1"); ok {
		t.Fatalf("expected session removed locally")
	}
}

// gatedPipeline holds every pipeline until release is closed.
type gatedPipeline struct {
	entered chan struct{}
	release chan struct{}
}

func (g gatedPipeline) DialHook(next redis.DialHook) redis.DialHook { return next }

func (g gatedPipeline) ProcessHook(next redis.ProcessHook) redis.ProcessHook { return next }

func (g gatedPipeline) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		<-g.release
		return next(ctx, cmds)
	}
}

func TestSessionStoreLookupsDoNotWaitOnRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	gate := gatedPipeline{entered: make(chan struct{}, 1), release: make(chan struct{})}
	client.AddHook(gate)
	store := NewSessionStore(client, time.Minute, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		store.GetOrCreate("s-1", func() *app.Session {
			return app.NewSession(domain.SessionRecord{ID: "s-1", HostID: "h", QuizID: "quiz-1", Pin: "778899"}, sampleQuiz().Questions)
		})
	}()
	<-gate.entered

	found := make(chan bool, 1)
	go func() {
		_, ok := store.Get("s-1")
		found <- ok
	}()
	select {
	case ok := <-found:
		if !ok {
			t.Fatalf("expected the session to be registered before redis answers")
		}
	case <-time.After(time.Second):
		t.Fatalf("lookup blocked behind the redis write")
	}

	close(gate.release)
	<-done
	if !mr.Exists("quiz:session:s-1") {
		t.Fatalf("expected redis key to be set once released")
	}
}
