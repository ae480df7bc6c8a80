package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	. "github.com/roelfdiedericks/companion/internal/logging"
	. "github.com/roelfdiedericks/companion/internal/metrics"
	"github.com/roelfdiedericks/companion/internal/tokens"
)

// ErrNoProfiles is returned when a registry is built without profiles.
var ErrNoProfiles = errors.New("no model profiles configured")

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Profiles           []Profile
	DefaultProfile     string
	ThinkingProfile    string
	LightweightProfile string

	// AcceptPartial accepts a reply cut at the token limit instead of
	// falling back to the next profile.
	AcceptPartial bool

	// Cooldowns skips profiles that recently failed with a rate limit or
	// overload, with exponential back-off.
	Cooldowns bool

	// Transport is the base HTTP transport for every adapter (nil = default).
	Transport http.RoundTripper

	// Providers overrides the adapter for their Kind.
	Providers []Provider

	// Estimator fills token counts a backend did not report (nil = shared).
	Estimator *tokens.Estimator
}

// Selection describes the call being made, for start-index selection.
type Selection struct {
	Thinking bool
	Greeting bool
}

// Outcome is the result of one SendWithFallback call.
type Outcome struct {
	Profile    Profile // profile that produced Result, if any succeeded
	Result     *Result
	Attempts   []Attempt
	Failure    *Failure // set when no profile succeeded
	FailedOver bool     // success came from a profile other than the first tried
}

// Succeeded reports whether a profile produced an accepted reply.
func (o *Outcome) Succeeded() bool {
	return o.Failure == nil && o.Result != nil
}

// providerCooldown tracks cooldown state for a profile after errors
type providerCooldown struct {
	until      time.Time
	errorCount int
	reason     Category
}

// ProfileStatus is the live state of one profile.
type ProfileStatus struct {
	Profile    Profile
	InCooldown bool
	Until      time.Time
	Reason     Category
	ErrorCount int
}

// Registry owns the ordered profile list and rotates requests across it.
type Registry struct {
	cfg       RegistryConfig
	profiles  []Profile
	providers map[Kind]Provider
	limiters  []*rate.Limiter // index-aligned with profiles; nil = unlimited
	estimator *tokens.Estimator

	cooldownMu sync.Mutex
	cooldowns  map[string]*providerCooldown
	now        func() time.Time
}

// NewRegistry builds adapters for every kind used by the profiles.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if len(cfg.Profiles) == 0 {
		return nil, ErrNoProfiles
	}

	r := &Registry{
		cfg:       cfg,
		profiles:  append([]Profile(nil), cfg.Profiles...),
		providers: make(map[Kind]Provider),
		limiters:  make([]*rate.Limiter, len(cfg.Profiles)),
		estimator: cfg.Estimator,
		cooldowns: make(map[string]*providerCooldown),
		now:       time.Now,
	}
	for _, p := range cfg.Providers {
		r.providers[p.Kind()] = p
	}

	for i, p := range r.profiles {
		if _, ok := r.providers[p.Kind]; !ok {
			provider, err := NewProvider(p.Kind, cfg.Transport)
			if err != nil {
				return nil, fmt.Errorf("profile %s: %w", p.Name, err)
			}
			r.providers[p.Kind] = provider
		}
		if p.RequestsPerMinute > 0 {
			r.limiters[i] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(p.RequestsPerMinute)), 1)
		}
		L_debug("llm: profile registered", "index", i, "profile", p.String(), "rpm", p.RequestsPerMinute)
	}

	for _, name := range []string{cfg.DefaultProfile, cfg.ThinkingProfile, cfg.LightweightProfile} {
		if name != "" && r.IndexOf(name) < 0 {
			L_warn("llm: designated profile not found, using default rotation", "profile", name)
		}
	}
	return r, nil
}

// Profiles returns a copy of the configured profiles in rotation order.
func (r *Registry) Profiles() []Profile {
	return append([]Profile(nil), r.profiles...)
}

// IndexOf returns the index of the named profile, or -1.
func (r *Registry) IndexOf(name string) int {
	for i, p := range r.profiles {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// StartIndex picks where the rotation starts: the thinking profile for
// thinking calls, the lightweight profile for greetings, otherwise the
// default profile. Any designation that is unset or unknown falls through to
// the next rule, ending at index 0.
func (r *Registry) StartIndex(sel Selection) int {
	if sel.Thinking {
		if i := r.IndexOf(r.cfg.ThinkingProfile); i >= 0 {
			return i
		}
	}
	if sel.Greeting {
		if i := r.IndexOf(r.cfg.LightweightProfile); i >= 0 {
			return i
		}
	}
	if i := r.IndexOf(r.cfg.DefaultProfile); i >= 0 {
		return i
	}
	return 0
}

// SendWithFallback tries every profile once, in rotation order starting at
// start, and returns at the first accepted result. Attempts are sequential.
// Cancelling ctx stops the rotation.
func (r *Registry) SendWithFallback(ctx context.Context, req *Request, start int) *Outcome {
	n := len(r.profiles)
	start = ((start % n) + n) % n
	out := &Outcome{Attempts: make([]Attempt, 0, n)}
	began := time.Now()

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		idx := (start + i) % n
		profile := r.profiles[idx]
		prefix := "llm/" + profile.Name

		if r.cfg.Cooldowns && r.inCooldown(profile.Name) {
			out.Attempts = append(out.Attempts, Attempt{Profile: profile, Skipped: true})
			MetricInc(prefix, "skipped")
			L_debug("failover: profile in cooldown, skipping", "profile", profile.Name)
			continue
		}

		res := r.attempt(ctx, idx, req)
		out.Attempts = append(out.Attempts, Attempt{Profile: profile, Result: res})
		r.record(prefix, res)

		if res.Succeeded || r.acceptPartial(res) {
			r.fillUsage(req, res)
			MetricAdd(prefix, "prompt_tokens", int64(res.PromptTokens))
			MetricAdd(prefix, "response_tokens", int64(res.ResponseTokens))
			out.Profile = profile
			out.Result = res
			out.FailedOver = len(out.Attempts) > 1
			if r.cfg.Cooldowns {
				r.clearCooldown(profile.Name)
			}
			if out.FailedOver {
				L_info("failover: using fallback profile", "profile", profile.Name, "attempts", len(out.Attempts))
				MetricOutcome("llm", "rotation", "failed_over")
			} else {
				MetricOutcome("llm", "rotation", "first")
			}
			L_elapsed(began, "llm: reply", "profile", profile.Name, "partial", res.Partial, "tokens", res.ResponseTokens)
			return out
		}

		category, _ := categorize(res)
		if r.cfg.Cooldowns && (category == CategoryRateLimited || category == CategoryOverloaded) {
			r.markCooldown(profile.Name, category, res.HTTPStatus == 402 || ClassifyMessage(res.ErrorMessage) == ErrorTypeBilling)
		}
		L_warn("failover: trying next profile",
			"failed", profile.Name,
			"reason", category,
			"status", res.HTTPStatus,
			"finish", res.FinishReason,
			"error", res.Err)
	}

	failure := Classify(out.Attempts)
	if err := ctx.Err(); err != nil {
		failure.Category = CategoryTransport
		failure.Message = "The request was cancelled before a reply arrived."
		L_debug("failover: cancelled", "attempts", len(out.Attempts), "error", err)
	}
	out.Failure = &failure
	MetricOutcome("llm", "rotation", "exhausted")
	L_elapsed(began, "failover: all profiles failed", "category", failure.Category, "attempts", len(out.Attempts))
	return out
}

// attempt makes one bounded call. Rate limiter waits count against the
// parent context, not the attempt timeout.
func (r *Registry) attempt(ctx context.Context, idx int, req *Request) *Result {
	profile := r.profiles[idx]
	if lim := r.limiters[idx]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return &Result{Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	provider := r.providers[profile.Kind]
	attemptCtx, cancel := context.WithTimeout(ctx, profile.Timeout())
	defer cancel()

	res := provider.Send(attemptCtx, req, profile)
	if res == nil {
		res = &Result{Err: fmt.Errorf("%s adapter returned no result", profile.Kind)}
	}
	return res
}

// acceptPartial applies the partial-answer policy to a failed result.
func (r *Registry) acceptPartial(res *Result) bool {
	if !r.cfg.AcceptPartial || res.Err != nil || res.BlockReason != "" {
		return false
	}
	if res.HTTPStatus != 0 && (res.HTTPStatus < 200 || res.HTTPStatus >= 300) {
		return false
	}
	if !IsLengthReason(res.FinishReason) || strings.TrimSpace(res.Text) == "" {
		return false
	}
	res.Partial = true
	res.Succeeded = true
	return true
}

func (r *Registry) record(prefix string, res *Result) {
	MetricDuration(prefix, "send", res.Duration)
	if res.FinishReason != "" {
		MetricOutcome(prefix, "finish", strings.ToLower(res.FinishReason))
	}
	if res.Succeeded {
		MetricSuccess(prefix, "send")
		return
	}
	category, _ := categorize(res)
	MetricFailWithReason(prefix, "send", string(category))
}

// fillUsage estimates token counts the backend left out.
func (r *Registry) fillUsage(req *Request, res *Result) {
	if res.PromptTokens > 0 && res.ResponseTokens > 0 {
		return
	}
	est := r.estimator
	if est == nil {
		est = tokens.Get()
	}
	if res.PromptTokens == 0 {
		texts := make([]string, 0, len(req.History)+2)
		texts = append(texts, req.SystemPrompt)
		for _, t := range req.History {
			texts = append(texts, t.Text)
		}
		texts = append(texts, req.UserText)
		res.PromptTokens = est.CountMessages(texts...)
	}
	if res.ResponseTokens == 0 {
		res.ResponseTokens = est.Count(res.Text)
	}
	res.UsageEstimated = true
}

// ==================== Cooldowns ====================

// calculateCooldownDuration returns the cooldown duration based on error count and type.
// Non-billing: 1min → 5min → 25min → 1hr max (exponential base 5)
// Billing: 5hr → 10hr → 20hr → 24hr max (exponential base 2)
func calculateCooldownDuration(errorCount int, isBilling bool) time.Duration {
	if errorCount < 1 {
		errorCount = 1
	}

	if isBilling {
		base := 5 * time.Hour
		exponent := min(errorCount-1, 2)
		return min(time.Duration(float64(base)*math.Pow(2, float64(exponent))), 24*time.Hour)
	}

	base := time.Minute
	exponent := min(errorCount-1, 3)
	return min(time.Duration(float64(base)*math.Pow(5, float64(exponent))), time.Hour)
}

func (r *Registry) inCooldown(name string) bool {
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()

	cd := r.cooldowns[name]
	return cd != nil && r.now().Before(cd.until)
}

// markCooldown puts a profile into cooldown with exponential backoff.
func (r *Registry) markCooldown(name string, reason Category, billing bool) {
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()

	cd := r.cooldowns[name]
	if cd == nil {
		cd = &providerCooldown{}
		r.cooldowns[name] = cd
	}
	cd.errorCount++
	cd.reason = reason
	dur := calculateCooldownDuration(cd.errorCount, billing)
	cd.until = r.now().Add(dur)

	L_warn("llm: profile cooldown",
		"profile", name,
		"until", cd.until.Format("15:04:05"),
		"reason", reason,
		"errorCount", cd.errorCount,
		"duration", dur)
}

func (r *Registry) clearCooldown(name string) {
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()

	if cd := r.cooldowns[name]; cd != nil {
		delete(r.cooldowns, name)
		L_info("llm: profile cooldown cleared", "profile", name, "wasReason", cd.reason)
	}
}

// ClearCooldowns removes all cooldowns and returns how many were active.
func (r *Registry) ClearCooldowns() int {
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()

	count := len(r.cooldowns)
	clear(r.cooldowns)
	if count > 0 {
		L_info("llm: all cooldowns cleared", "count", count)
	}
	return count
}

// Status returns every profile with its cooldown state.
func (r *Registry) Status() []ProfileStatus {
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()

	now := r.now()
	out := make([]ProfileStatus, 0, len(r.profiles))
	for _, p := range r.profiles {
		st := ProfileStatus{Profile: p}
		if cd := r.cooldowns[p.Name]; cd != nil && now.Before(cd.until) {
			st.InCooldown = true
			st.Until = cd.until
			st.Reason = cd.reason
			st.ErrorCount = cd.errorCount
		}
		out = append(out, st)
	}
	return out
}
