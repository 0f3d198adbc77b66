package tabsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/tabsync/relay"
	"github.com/MrEthical07/tabsync/storage"
)

const testGrace = 20 * time.Millisecond

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Relay.HandshakeGrace = testGrace
	cfg.Metrics.Enabled = true
	return cfg
}

func testUser() *User {
	return &User{ID: "42", UserName: "alice", FullName: "Alice Doe", Email: "alice@example.com", IsEnabled: true}
}

func newTestClient(t *testing.T, hub *storage.MemoryHub, id string, opts ...func(*Builder)) *Client {
	t.Helper()
	b := New().WithConfig(testConfig()).WithMemoryHub(hub).WithContextID(id)
	for _, opt := range opts {
		opt(b)
	}
	c, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("build %s: %v", id, err)
	}
	t.Cleanup(c.Close)
	waitStorageReady(t, c)
	return c
}

func waitStorageReady(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.StorageReady():
	case <-time.After(2 * time.Second):
		t.Fatalf("context %s never became ready", c.ID())
	}
	flush(t, c)
}

// flush drains every relay loop a few times, enough for a message and the
// tasks it defers to settle in each context.
func flush(t *testing.T, clients ...*Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 4; i++ {
		for _, c := range clients {
			if err := c.relay.Flush(ctx); err != nil {
				t.Fatalf("flush %s: %v", c.ID(), err)
			}
		}
	}
}

func expectStatus(t *testing.T, ch <-chan bool, want bool) {
	t.Helper()
	select {
	case got, ok := <-ch:
		if !ok {
			t.Fatal("status channel closed")
		}
		if got != want {
			t.Fatalf("expected status %v, got %v", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for status %v", want)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func expectNoStatus(t *testing.T, ch <-chan bool) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected status %v", got)
	default:
	}
}

func TestLoginStatusEmitsOnlyOnTransitions(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, storage.NewMemoryHub(), "a")

	ch, cancel := c.LoginStatusChanged()
	defer cancel()

	if err := c.Save(ctx, testUser(), "access", "refresh", time.Now().Add(time.Hour), false); err != nil {
		t.Fatalf("save: %v", err)
	}
	expectStatus(t, ch, true)

	for i := 0; i < 3; i++ {
		if ok, err := c.IsLoggedIn(ctx); err != nil || !ok {
			t.Fatalf("expected logged in, got %v err=%v", ok, err)
		}
	}
	flush(t, c)
	expectNoStatus(t, ch)

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	expectStatus(t, ch, false)

	if user, err := c.CurrentUser(ctx); err != nil || user != nil {
		t.Fatalf("expected no user, got %+v err=%v", user, err)
	}
	flush(t, c)
	expectNoStatus(t, ch)

	if got := c.MetricsSnapshot().Counters[MetricLoginStatusChanged]; got != 2 {
		t.Fatalf("expected 2 transitions, got %d", got)
	}
}

func TestStatusIsNotDeliveredInsideTheCall(t *testing.T) {
	c := newTestClient(t, storage.NewMemoryHub(), "a")

	ch, cancel := c.LoginStatusChanged()
	defer cancel()

	// Save runs inline on the relay loop here, so the notification it queues
	// can only run once this task has returned.
	err := c.relay.Run(context.Background(), func(ctx context.Context) error {
		if err := c.Save(ctx, testUser(), "access", "refresh", time.Now().Add(time.Hour), false); err != nil {
			return err
		}
		time.Sleep(10 * time.Millisecond)
		select {
		case got := <-ch:
			return fmt.Errorf("status %v delivered inside Save", got)
		default:
			return nil
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, ch, true)
}

func TestLogoutRacingRemoteLoginEndsLoggedOut(t *testing.T) {
	ctx := context.Background()
	hub := storage.NewMemoryHub()
	a := newTestClient(t, hub, "a")
	b := newTestClient(t, hub, "b")

	for i := 0; i < 20; i++ {
		// a's credential reaches b's queue before b logs out, so the logout
		// must be applied last in both contexts.
		if err := a.Save(ctx, testUser(), "access", "refresh", time.Now().Add(time.Hour), false); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := b.Logout(ctx); err != nil {
			t.Fatalf("logout: %v", err)
		}
		flush(t, a, b)

		okA, errA := a.IsLoggedIn(ctx)
		okB, errB := b.IsLoggedIn(ctx)
		if errA != nil || errB != nil {
			t.Fatalf("iteration %d: errors a=%v b=%v", i, errA, errB)
		}
		if okA || okB {
			t.Fatalf("iteration %d: expected both logged out, got a=%v b=%v", i, okA, okB)
		}
	}
}

func TestSlowSubscriberEndsOnCurrentStatus(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Session.StatusBuffer = 2
	c := newTestClient(t, storage.NewMemoryHub(), "a", func(b *Builder) {
		b.WithConfig(cfg)
	})

	ch, cancel := c.LoginStatusChanged()
	defer cancel()

	// nine transitions without reading, ending logged in
	for i := 0; i < 9; i++ {
		var err error
		if i%2 == 0 {
			err = c.Save(ctx, testUser(), "access", "refresh", time.Now().Add(time.Hour), false)
		} else {
			err = c.Logout(ctx)
		}
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	flush(t, c)

	var got []bool
	for {
		select {
		case v := <-ch:
			got = append(got, v)
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}

	if len(got) == 0 {
		t.Fatal("no status delivered")
	}
	if !got[0] {
		t.Fatalf("first status must be true, got %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i] == got[i-1] {
			t.Fatalf("repeated status at %d: %v", i, got)
		}
	}
	loggedIn, err := c.IsLoggedIn(ctx)
	if err != nil {
		t.Fatalf("is logged in: %v", err)
	}
	if last := got[len(got)-1]; last != loggedIn || !loggedIn {
		t.Fatalf("last delivered status %v, current %v (all %v)", last, loggedIn, got)
	}
}

func TestIsLoggedInCountsExpiryOnce(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	c := newTestClient(t, storage.NewMemoryHub(), "a", func(b *Builder) {
		b.WithClock(clock.Now)
	})

	if err := c.Save(ctx, testUser(), "access", "refresh", clock.Now().Add(time.Minute), false); err != nil {
		t.Fatalf("save: %v", err)
	}
	flush(t, c)
	clock.Advance(2 * time.Minute)

	before := c.MetricsSnapshot().Counters[MetricSessionExpired]
	if ok, err := c.IsLoggedIn(ctx); err != nil || ok {
		t.Fatalf("expected logged out, got %v err=%v", ok, err)
	}
	if got := c.MetricsSnapshot().Counters[MetricSessionExpired] - before; got != 1 {
		t.Fatalf("expected one expiry per call, got %d", got)
	}
}

func TestRemoteLogoutFlipsOtherContext(t *testing.T) {
	for _, remember := range []bool{false, true} {
		t.Run(map[bool]string{false: "session", true: "remembered"}[remember], func(t *testing.T) {
			ctx := context.Background()
			hub := storage.NewMemoryHub()
			a := newTestClient(t, hub, "a")

			if err := a.Save(ctx, testUser(), "access", "refresh", time.Now().Add(time.Hour), remember); err != nil {
				t.Fatalf("save: %v", err)
			}

			b := newTestClient(t, hub, "b")
			eventually(t, "login shared with b", func() bool {
				ok, err := b.IsLoggedIn(ctx)
				return err == nil && ok
			})
			flush(t, b)

			ch, cancel := b.LoginStatusChanged()
			defer cancel()

			if err := a.Logout(ctx); err != nil {
				t.Fatalf("logout: %v", err)
			}
			expectStatus(t, ch, false)

			flush(t, a, b)
			if user, err := b.CurrentUser(ctx); err != nil || user != nil {
				t.Fatalf("expected no user in b, got %+v err=%v", user, err)
			}
			if tok, _ := b.AccessToken(ctx); tok != "" {
				t.Fatalf("expected no access token in b, got %q", tok)
			}
		})
	}
}

func TestRemoteLoginReachesOpenContext(t *testing.T) {
	ctx := context.Background()
	hub := storage.NewMemoryHub()
	a := newTestClient(t, hub, "a")
	b := newTestClient(t, hub, "b")

	ch, cancel := b.LoginStatusChanged()
	defer cancel()

	if err := a.Save(ctx, testUser(), "access", "refresh", time.Now().Add(time.Hour), false); err != nil {
		t.Fatalf("save: %v", err)
	}
	expectStatus(t, ch, true)

	flush(t, a, b)
	user, err := b.CurrentUser(ctx)
	if err != nil || user == nil || user.UserName != "alice" {
		t.Fatalf("expected alice in b, got %+v err=%v", user, err)
	}
}

func TestSavePlacesCredentialByRememberMe(t *testing.T) {
	for _, remember := range []bool{false, true} {
		t.Run(map[bool]string{false: "session", true: "remembered"}[remember], func(t *testing.T) {
			ctx := context.Background()
			hub := storage.NewMemoryHub()
			c := newTestClient(t, hub, "a")
			observer := hub.Open("observer")

			if err := c.Save(ctx, testUser(), "access", "refresh", time.Now().Add(time.Hour), remember); err != nil {
				t.Fatalf("save: %v", err)
			}

			for _, key := range credentialKeys {
				_, sessionErr := c.session.Get(ctx, key)
				_, persistentErr := observer.Get(ctx, key)
				inSession := sessionErr == nil
				inPersistent := persistentErr == nil
				if inSession == remember || inPersistent != remember {
					t.Fatalf("%s: session=%v persistent=%v with remember=%v", key, inSession, inPersistent, remember)
				}
			}

			raw, err := observer.Get(ctx, KeyRememberMe)
			if err != nil {
				t.Fatalf("remember_me must always be persisted: %v", err)
			}
			want := "false"
			if remember {
				want = "true"
			}
			if raw != want {
				t.Fatalf("remember_me: got %s want %s", raw, want)
			}

			got, err := c.RememberMe(ctx)
			if err != nil || got != remember {
				t.Fatalf("RememberMe: got %v err=%v", got, err)
			}
		})
	}
}

func TestSwitchingRememberMeMovesCredential(t *testing.T) {
	ctx := context.Background()
	hub := storage.NewMemoryHub()
	c := newTestClient(t, hub, "a")
	observer := hub.Open("observer")

	if err := c.Save(ctx, testUser(), "one", "r", time.Now().Add(time.Hour), true); err != nil {
		t.Fatalf("save remembered: %v", err)
	}
	if err := c.Save(ctx, testUser(), "two", "r", time.Now().Add(time.Hour), false); err != nil {
		t.Fatalf("save session: %v", err)
	}

	if _, err := observer.Get(ctx, KeyAccessToken); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("persistent copy must be gone, got %v", err)
	}
	if tok, err := c.AccessToken(ctx); err != nil || tok != "two" {
		t.Fatalf("access token: got %q err=%v", tok, err)
	}
}

func TestExpiredSessionIsNotLoggedIn(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	c := newTestClient(t, storage.NewMemoryHub(), "a", func(b *Builder) {
		b.WithClock(clock.Now)
	})

	ch, cancel := c.LoginStatusChanged()
	defer cancel()

	if err := c.Save(ctx, testUser(), "access", "refresh", clock.Now().Add(time.Minute), false); err != nil {
		t.Fatalf("save: %v", err)
	}
	expectStatus(t, ch, true)

	clock.Advance(2 * time.Minute)

	expired, err := c.IsSessionExpired(ctx)
	if err != nil || !expired {
		t.Fatalf("expected expired session, got %v err=%v", expired, err)
	}
	if ok, err := c.IsLoggedIn(ctx); err != nil || ok {
		t.Fatalf("expired session must not be logged in, got %v err=%v", ok, err)
	}
	expectStatus(t, ch, false)

	// the user is still stored
	if user, err := c.CurrentUser(ctx); err != nil || user == nil {
		t.Fatalf("expected stored user, got %+v err=%v", user, err)
	}
	if c.MetricsSnapshot().Counters[MetricSessionExpired] == 0 {
		t.Fatal("expected session expiry to be counted")
	}
}

func TestSessionWithoutExpiryNeverExpires(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, storage.NewMemoryHub(), "a")

	expired, err := c.IsSessionExpired(ctx)
	if err != nil || expired {
		t.Fatalf("expected not expired, got %v err=%v", expired, err)
	}
	if _, ok, err := c.AccessTokenExpiry(ctx); err != nil || ok {
		t.Fatalf("expected no stored expiry, got ok=%v err=%v", ok, err)
	}
}

func TestRememberMeFallsBackToConfig(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Session.DefaultRememberMe = true
	c := newTestClient(t, storage.NewMemoryHub(), "a", func(b *Builder) {
		b.WithConfig(cfg)
	})

	got, err := c.RememberMe(ctx)
	if err != nil || !got {
		t.Fatalf("expected configured default, got %v err=%v", got, err)
	}
}

func TestSaveRequiresUser(t *testing.T) {
	c := newTestClient(t, storage.NewMemoryHub(), "a")
	err := c.Save(context.Background(), nil, "a", "r", time.Now(), false)
	if !errors.Is(err, ErrNilUser) {
		t.Fatalf("expected ErrNilUser, got %v", err)
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	c := newTestClient(t, storage.NewMemoryHub(), "a")
	ch, _ := c.LoginStatusChanged()

	c.Close()
	c.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	if err := c.Save(context.Background(), testUser(), "a", "r", time.Now(), false); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
	if err := c.Logout(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}

	late, _ := c.LoginStatusChanged()
	if _, ok := <-late; ok {
		t.Fatal("subscription after close must be closed")
	}
}

func TestCancelUnsubscribes(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, storage.NewMemoryHub(), "a")
	ch, cancel := c.LoginStatusChanged()
	cancel()
	cancel()

	if err := c.Save(ctx, testUser(), "access", "refresh", time.Now().Add(time.Hour), false); err != nil {
		t.Fatalf("save: %v", err)
	}
	flush(t, c)

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after cancel")
	}
}

func TestReservedKeyIsCounted(t *testing.T) {
	c := newTestClient(t, storage.NewMemoryHub(), "a")

	err := c.Storage().SaveSyncedSessionData(context.Background(), relay.KeySyncKeys, []string{"x"})
	if !errors.Is(err, relay.ErrReservedKey) {
		t.Fatalf("expected ErrReservedKey, got %v", err)
	}
	if got := c.MetricsSnapshot().Counters[MetricReservedKeyRejected]; got != 1 {
		t.Fatalf("expected 1 rejection, got %d", got)
	}
}

func TestLoginSharedOverRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()

	a, err := New().WithConfig(testConfig()).WithRedis(rdb).WithContextID("a").Build(ctx)
	if err != nil {
		t.Fatalf("build a: %v", err)
	}
	defer a.Close()
	waitStorageReady(t, a)

	if err := a.Save(ctx, testUser(), "access", "refresh", time.Now().Add(time.Hour), false); err != nil {
		t.Fatalf("save: %v", err)
	}

	cfg := testConfig()
	cfg.Relay.HandshakeGrace = time.Second
	b, err := New().WithConfig(cfg).WithRedis(rdb).WithContextID("b").Build(ctx)
	if err != nil {
		t.Fatalf("build b: %v", err)
	}
	defer b.Close()
	waitStorageReady(t, b)

	eventually(t, "user shared over redis", func() bool {
		user, err := b.CurrentUser(ctx)
		return err == nil && user != nil && user.ID == "42"
	})
	if got := b.MetricsSnapshot().Counters[MetricStorageReady]; got != 1 {
		t.Fatalf("expected one completed handshake, got %d", got)
	}
}
