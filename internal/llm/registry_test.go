package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/companion/internal/tokens"
)

// fakeProvider answers from a per-profile script and records call order.
type fakeProvider struct {
	kind    Kind
	mu      sync.Mutex
	calls   []string
	respond func(ctx context.Context, p Profile) *Result
}

func (f *fakeProvider) Kind() Kind { return f.kind }

func (f *fakeProvider) Send(ctx context.Context, req *Request, p Profile) *Result {
	f.mu.Lock()
	f.calls = append(f.calls, p.Name)
	f.mu.Unlock()
	return f.respond(ctx, p)
}

func (f *fakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func ok(text string) *Result {
	r := &Result{HTTPStatus: 200, Text: text, FinishReason: "stop", PromptTokens: 10, ResponseTokens: 5}
	r.Evaluate()
	return r
}

func status(code int) *Result {
	return &Result{HTTPStatus: code}
}

func profiles(names ...string) []Profile {
	out := make([]Profile, len(names))
	for i, n := range names {
		out[i] = Profile{Name: n, Kind: KindOpenAI, Model: "m-" + n}
	}
	return out
}

func newTestRegistry(t *testing.T, cfg RegistryConfig, fake *fakeProvider) *Registry {
	t.Helper()
	fake.kind = KindOpenAI
	cfg.Providers = []Provider{fake}
	cfg.Estimator = &tokens.Estimator{}
	r, err := NewRegistry(cfg)
	require.NoError(t, err)
	return r
}

func TestNewRegistryRequiresProfiles(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{})
	assert.ErrorIs(t, err, ErrNoProfiles)
}

func TestNewRegistryUnknownKind(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{Profiles: []Profile{{Name: "x", Kind: "mystery"}}})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestStartIndex(t *testing.T) {
	fake := &fakeProvider{respond: func(context.Context, Profile) *Result { return ok("hi") }}
	r := newTestRegistry(t, RegistryConfig{
		Profiles:           profiles("A", "B", "C", "D"),
		DefaultProfile:     "B",
		ThinkingProfile:    "C",
		LightweightProfile: "D",
	}, fake)

	tests := []struct {
		name string
		sel  Selection
		want int
	}{
		{"default", Selection{}, 1},
		{"thinking", Selection{Thinking: true}, 2},
		{"greeting", Selection{Greeting: true}, 3},
		{"thinking wins over greeting", Selection{Thinking: true, Greeting: true}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.StartIndex(tt.sel))
		})
	}
}

func TestStartIndexFallsBackToZero(t *testing.T) {
	fake := &fakeProvider{respond: func(context.Context, Profile) *Result { return ok("hi") }}
	r := newTestRegistry(t, RegistryConfig{
		Profiles:        profiles("A", "B"),
		DefaultProfile:  "missing",
		ThinkingProfile: "also-missing",
	}, fake)

	assert.Equal(t, 0, r.StartIndex(Selection{}))
	assert.Equal(t, 0, r.StartIndex(Selection{Thinking: true}))
}

func TestFallbackExhaustionRotationOrder(t *testing.T) {
	fake := &fakeProvider{respond: func(context.Context, Profile) *Result { return status(500) }}
	r := newTestRegistry(t, RegistryConfig{Profiles: profiles("A", "B", "C")}, fake)

	out := r.SendWithFallback(context.Background(), &Request{UserText: "hi"}, 1)

	assert.Equal(t, []string{"B", "C", "A"}, fake.Calls())
	require.False(t, out.Succeeded())
	require.NotNil(t, out.Failure)
	require.Len(t, out.Attempts, 3)
	for i, name := range []string{"B", "C", "A"} {
		assert.Equal(t, name, out.Attempts[i].Profile.Name)
		assert.False(t, out.Attempts[i].Skipped)
	}
	assert.Contains(t, out.Failure.Message, "fallback")
}

func TestStopsAtFirstSuccess(t *testing.T) {
	fake := &fakeProvider{respond: func(_ context.Context, p Profile) *Result {
		if p.Name == "A" {
			return status(429)
		}
		return ok("hello from " + p.Name)
	}}
	r := newTestRegistry(t, RegistryConfig{Profiles: profiles("A", "B", "C")}, fake)

	out := r.SendWithFallback(context.Background(), &Request{UserText: "hi"}, 0)

	require.True(t, out.Succeeded())
	assert.Equal(t, "B", out.Profile.Name)
	assert.Equal(t, "hello from B", out.Result.Text)
	assert.True(t, out.FailedOver)
	assert.Equal(t, []string{"A", "B"}, fake.Calls())
}

func TestStartIndexWrapsAround(t *testing.T) {
	fake := &fakeProvider{respond: func(context.Context, Profile) *Result { return status(503) }}
	r := newTestRegistry(t, RegistryConfig{Profiles: profiles("A", "B", "C")}, fake)

	r.SendWithFallback(context.Background(), &Request{}, 5)
	assert.Equal(t, []string{"C", "A", "B"}, fake.Calls())
}

func TestPartialAnswerPolicy(t *testing.T) {
	truncated := func(context.Context, Profile) *Result {
		r := &Result{HTTPStatus: 200, Text: "half an ans", FinishReason: "length"}
		r.Evaluate()
		return r
	}

	t.Run("prefer complete by default", func(t *testing.T) {
		fake := &fakeProvider{respond: truncated}
		r := newTestRegistry(t, RegistryConfig{Profiles: profiles("A", "B")}, fake)

		out := r.SendWithFallback(context.Background(), &Request{}, 0)
		require.False(t, out.Succeeded())
		assert.Equal(t, CategoryTerminated, out.Failure.Category)
		assert.True(t, out.Failure.Truncated)
		assert.Len(t, fake.Calls(), 2)
	})

	t.Run("accept partial", func(t *testing.T) {
		fake := &fakeProvider{respond: truncated}
		r := newTestRegistry(t, RegistryConfig{Profiles: profiles("A", "B"), AcceptPartial: true}, fake)

		out := r.SendWithFallback(context.Background(), &Request{}, 0)
		require.True(t, out.Succeeded())
		assert.True(t, out.Result.Partial)
		assert.Equal(t, "half an ans", out.Result.Text)
		assert.Len(t, fake.Calls(), 1)
	})

	t.Run("empty partial is still a failure", func(t *testing.T) {
		fake := &fakeProvider{respond: func(context.Context, Profile) *Result {
			return &Result{HTTPStatus: 200, FinishReason: "length"}
		}}
		r := newTestRegistry(t, RegistryConfig{Profiles: profiles("A"), AcceptPartial: true}, fake)

		assert.False(t, r.SendWithFallback(context.Background(), &Request{}, 0).Succeeded())
	})
}

func TestCancellationStopsRotation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeProvider{respond: func(ctx context.Context, _ Profile) *Result {
		cancel()
		<-ctx.Done()
		return &Result{Err: ctx.Err()}
	}}
	r := newTestRegistry(t, RegistryConfig{Profiles: profiles("A", "B", "C")}, fake)

	out := r.SendWithFallback(ctx, &Request{}, 0)

	assert.Equal(t, []string{"A"}, fake.Calls())
	require.NotNil(t, out.Failure)
	assert.Equal(t, CategoryTransport, out.Failure.Category)
}

func TestAttemptCarriesProfileTimeout(t *testing.T) {
	var deadline time.Time
	fake := &fakeProvider{respond: func(ctx context.Context, _ Profile) *Result {
		deadline, _ = ctx.Deadline()
		return ok("hi")
	}}
	p := profiles("A")
	p[0].TimeoutSeconds = 7
	r := newTestRegistry(t, RegistryConfig{Profiles: p}, fake)

	before := time.Now()
	r.SendWithFallback(context.Background(), &Request{}, 0)

	require.False(t, deadline.IsZero())
	assert.WithinDuration(t, before.Add(7*time.Second), deadline, time.Second)
}

func TestAttemptTimeoutIsOrdinaryFailure(t *testing.T) {
	fake := &fakeProvider{respond: func(_ context.Context, p Profile) *Result {
		if p.Name == "A" {
			return &Result{Err: context.DeadlineExceeded}
		}
		return ok("from B")
	}}
	r := newTestRegistry(t, RegistryConfig{Profiles: profiles("A", "B")}, fake)

	out := r.SendWithFallback(context.Background(), &Request{}, 0)
	require.True(t, out.Succeeded())
	assert.Equal(t, "B", out.Profile.Name)
}

func TestNilResultIsFailure(t *testing.T) {
	fake := &fakeProvider{respond: func(context.Context, Profile) *Result { return nil }}
	r := newTestRegistry(t, RegistryConfig{Profiles: profiles("A")}, fake)

	out := r.SendWithFallback(context.Background(), &Request{}, 0)
	require.NotNil(t, out.Failure)
	assert.Error(t, out.Attempts[0].Result.Err)
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	fake := &fakeProvider{respond: func(context.Context, Profile) *Result { return ok("hi") }}
	p := profiles("A")
	p[0].RequestsPerMinute = 1
	r := newTestRegistry(t, RegistryConfig{Profiles: p}, fake)

	require.True(t, r.SendWithFallback(context.Background(), &Request{}, 0).Succeeded())

	// The next token is a minute away; the deadline makes Wait fail fast.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out := r.SendWithFallback(ctx, &Request{}, 0)

	require.False(t, out.Succeeded())
	assert.Len(t, fake.Calls(), 1)
	assert.Contains(t, out.Attempts[0].Result.Err.Error(), "rate limiter")
}

func TestCooldownSkipsRateLimitedProfile(t *testing.T) {
	fake := &fakeProvider{respond: func(_ context.Context, p Profile) *Result {
		if p.Name == "A" {
			return status(429)
		}
		return ok("from B")
	}}
	r := newTestRegistry(t, RegistryConfig{Profiles: profiles("A", "B"), Cooldowns: true}, fake)
	now := time.Now()
	r.now = func() time.Time { return now }

	first := r.SendWithFallback(context.Background(), &Request{}, 0)
	require.True(t, first.Succeeded())

	second := r.SendWithFallback(context.Background(), &Request{}, 0)
	require.True(t, second.Succeeded())
	assert.True(t, second.Attempts[0].Skipped)
	assert.Equal(t, []string{"A", "B", "B"}, fake.Calls())

	st := r.Status()
	assert.True(t, st[0].InCooldown)
	assert.Equal(t, CategoryRateLimited, st[0].Reason)

	// Past the first back-off window A is tried again.
	now = now.Add(2 * time.Minute)
	r.SendWithFallback(context.Background(), &Request{}, 0)
	assert.Equal(t, []string{"A", "B", "B", "A", "B"}, fake.Calls())

	assert.Equal(t, 1, r.ClearCooldowns())
}

func TestCooldownsOffByDefault(t *testing.T) {
	fake := &fakeProvider{respond: func(context.Context, Profile) *Result { return status(429) }}
	r := newTestRegistry(t, RegistryConfig{Profiles: profiles("A")}, fake)

	r.SendWithFallback(context.Background(), &Request{}, 0)
	r.SendWithFallback(context.Background(), &Request{}, 0)
	assert.Equal(t, []string{"A", "A"}, fake.Calls())
}

func TestCalculateCooldownDuration(t *testing.T) {
	tests := []struct {
		count   int
		billing bool
		want    time.Duration
	}{
		{0, false, time.Minute},
		{1, false, time.Minute},
		{2, false, 5 * time.Minute},
		{3, false, 25 * time.Minute},
		{4, false, time.Hour},
		{9, false, time.Hour},
		{1, true, 5 * time.Hour},
		{2, true, 10 * time.Hour},
		{3, true, 20 * time.Hour},
		{5, true, 20 * time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, calculateCooldownDuration(tt.count, tt.billing), "count=%d billing=%v", tt.count, tt.billing)
	}
}

func TestFillUsageEstimates(t *testing.T) {
	fake := &fakeProvider{respond: func(context.Context, Profile) *Result {
		r := &Result{Text: "abcdefgh", FinishReason: "stop"}
		r.Evaluate()
		return r
	}}
	r := newTestRegistry(t, RegistryConfig{Profiles: profiles("A")}, fake)

	out := r.SendWithFallback(context.Background(), &Request{SystemPrompt: "abcd", UserText: "abcd"}, 0)
	require.True(t, out.Succeeded())
	assert.True(t, out.Result.UsageEstimated)
	assert.Equal(t, 2, out.Result.ResponseTokens)
	assert.Equal(t, 2*(1+tokens.MessageOverhead), out.Result.PromptTokens)
}

func TestReportedUsageKept(t *testing.T) {
	fake := &fakeProvider{respond: func(context.Context, Profile) *Result { return ok("hi") }}
	r := newTestRegistry(t, RegistryConfig{Profiles: profiles("A")}, fake)

	out := r.SendWithFallback(context.Background(), &Request{}, 0)
	assert.False(t, out.Result.UsageEstimated)
	assert.Equal(t, 10, out.Result.PromptTokens)
}

func TestProviderErrorsAreData(t *testing.T) {
	boom := errors.New("connection refused")
	fake := &fakeProvider{respond: func(context.Context, Profile) *Result { return &Result{Err: boom} }}
	r := newTestRegistry(t, RegistryConfig{Profiles: profiles("A")}, fake)

	out := r.SendWithFallback(context.Background(), &Request{}, 0)
	require.NotNil(t, out.Failure)
	assert.Equal(t, CategoryTransport, out.Failure.Category)
	assert.Contains(t, out.Failure.Diagnostic, "connection refused")
}
