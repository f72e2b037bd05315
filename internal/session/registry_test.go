package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/alumniportal/internal/model"
	"github.com/hitoshi/alumniportal/internal/provider"
)

// fakeClock はテスト用の時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T, clock *fakeClock) (*Registry, *countingFactory) {
	t.Helper()
	b := newBackend(t, false)
	if _, err := b.CreateAccount("a@b.com", "secret1", &model.Profile{Role: model.RoleAlumni}); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	f := &countingFactory{newFn: func(id string) provider.Provider { return b.ClientFor(id) }}
	r := NewRegistry(f.New, RegistryConfig{
		IdleTimeout:     10 * time.Minute,
		CleanupInterval: time.Hour,
		Store:           Options{Logger: discardLogger(), Now: clock.Now},
	})
	t.Cleanup(r.Close)
	return r, f
}

// countingFactory はプロバイダー生成回数を数える。
type countingFactory struct {
	mu    sync.Mutex
	calls int
	newFn func(id string) provider.Provider
}

func (f *countingFactory) New(id string) provider.Provider {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.newFn(id)
}

func TestRegistry_GetReturnsSameStore(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r, f := newTestRegistry(t, clock)

	s1, err := r.Get("browser-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	s2, err := r.Get("browser-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if s1 != s2 {
		t.Error("expected same store for same browser id")
	}
	if _, err := r.Get("browser-2"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if r.Count() != 2 {
		t.Errorf("Count() = %d, want 2", r.Count())
	}
	if f.calls != 2 {
		t.Errorf("provider factory calls = %d, want 2", f.calls)
	}
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r, f := newTestRegistry(t, clock)

	var wg sync.WaitGroup
	stores := make([]*Store, 20)
	for i := range stores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Get("same")
			if err != nil {
				t.Errorf("Get() error = %v", err)
				return
			}
			stores[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range stores[1:] {
		if s != stores[0] {
			t.Fatal("expected all goroutines to share one store")
		}
	}
	if f.calls != 1 {
		t.Errorf("provider factory calls = %d, want 1", f.calls)
	}
}

// TestRegistry_EvictIdle はアイドル時間を超えたストアだけが破棄されることを検証する。
func TestRegistry_EvictIdle(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r, _ := newTestRegistry(t, clock)

	idle, err := r.Get("idle")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	clock.Advance(8 * time.Minute)
	if _, err := r.Get("active"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	clock.Advance(3 * time.Minute)

	if n := r.evictIdle(); n != 1 {
		t.Errorf("evictIdle() = %d, want 1", n)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
	if _, err := idle.WaitSettled(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		t.Errorf("WaitSettled() on evicted store error = %v", err)
	}
	if err := idle.Login(context.Background(), LoginRequest{Email: "a@b.com", Password: "secret1"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Login() on evicted store error = %v, want ErrClosed", err)
	}
}

// TestRegistry_SessionSurvivesEviction は破棄後に同じブラウザIDで取得するとログイン状態が復元されることを検証する。
func TestRegistry_SessionSurvivesEviction(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r, _ := newTestRegistry(t, clock)

	s, err := r.Get("browser-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if err := s.Login(context.Background(), LoginRequest{Email: "a@b.com", Password: "secret1"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	clock.Advance(time.Hour)
	r.evictIdle()

	again, err := r.Get("browser-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if again == s {
		t.Fatal("expected a new store after eviction")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := again.WaitSettled(ctx)
	if err != nil {
		t.Fatalf("WaitSettled() error = %v", err)
	}
	if !st.IsAuthenticated {
		t.Errorf("state = %+v, want restored authenticated session", st)
	}
}

func TestRegistry_Close(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r, _ := newTestRegistry(t, clock)

	s, err := r.Get("browser-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	r.Close()
	r.Close()

	if _, err := r.Get("browser-2"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() after Close error = %v, want ErrClosed", err)
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
	if err := s.Login(context.Background(), LoginRequest{Email: "a@b.com", Password: "secret1"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Login() on closed store error = %v, want ErrClosed", err)
	}
}
