package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/roelfdiedericks/companion/internal/config"
	"github.com/roelfdiedericks/companion/internal/llm"
	"github.com/roelfdiedericks/companion/internal/metrics"
)

// ProfilesCmd lists the configured profiles in rotation order.
type ProfilesCmd struct{}

func (c *ProfilesCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	fmt.Println(renderProfiles(cfg))
	return nil
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
}

func renderProfiles(cfg *config.Config) string {
	t := newTable("#", "NAME", "KIND", "MODEL", "ROLE", "SEARCH", "RPM", "TIMEOUT")
	for i, p := range cfg.Profiles {
		var roles []string
		if p.Name == cfg.DefaultProfile || (cfg.DefaultProfile == "" && i == 0) {
			roles = append(roles, "default")
		}
		if p.Name == cfg.ThinkingProfile {
			roles = append(roles, "thinking")
		}
		if p.Name == cfg.LightweightProfile {
			roles = append(roles, "lightweight")
		}

		search := "request"
		if p.WebSearch != nil {
			search = strconv.FormatBool(*p.WebSearch)
		}
		rpm := "-"
		if p.RequestsPerMinute > 0 {
			rpm = strconv.Itoa(p.RequestsPerMinute)
		}

		t.Row(strconv.Itoa(i), p.Name, string(p.Kind), p.Model, strings.Join(roles, ","), search, rpm, p.Timeout().String())
	}
	return t.String()
}

// renderStats shows per-profile send statistics and any active cooldowns.
func renderStats(registry *llm.Registry) string {
	snaps := metrics.MetricSnapshot()
	find := func(path string, typ metrics.MetricType) (metrics.Snapshot, bool) {
		i := slices.IndexFunc(snaps, func(s metrics.Snapshot) bool { return s.Path == path && s.Type == typ })
		if i < 0 {
			return metrics.Snapshot{}, false
		}
		return snaps[i], true
	}

	t := newTable("PROFILE", "OK", "FAILED", "AVG", "TOKENS IN/OUT", "STATUS")
	for _, st := range registry.Status() {
		prefix := "llm/" + st.Profile.Name
		sf, _ := find(prefix+"/send", metrics.TypeSuccessFail)
		timing, _ := find(prefix+"/send", metrics.TypeTiming)
		in, _ := find(prefix+"/prompt_tokens", metrics.TypeCounter)
		out, _ := find(prefix+"/response_tokens", metrics.TypeCounter)

		failed := strconv.FormatInt(sf.Failures, 10)
		if len(sf.FailureReasons) > 0 {
			failed += " (" + formatCounts(sf.FailureReasons) + ")"
		}
		status := "ready"
		if st.InCooldown {
			status = fmt.Sprintf("cooldown %s (%s)", time.Until(st.Until).Round(time.Second), st.Reason)
		}
		t.Row(st.Profile.Name, strconv.FormatInt(sf.Success, 10), failed,
			timing.Avg.Round(time.Millisecond).String(),
			fmt.Sprintf("%d/%d", in.Value, out.Value), status)
	}

	out := t.String()
	if rotation, ok := find("llm/rotation", metrics.TypeOutcome); ok {
		out += "\nrotation: " + formatCounts(rotation.Outcomes)
	}
	if replies, ok := find("companion/reply", metrics.TypeOutcome); ok {
		out += "\nreplies: " + formatCounts(replies.Outcomes)
	}
	return out
}

// formatCounts renders a count map as "a=1 b=2" in key order.
func formatCounts(m map[string]int64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, " ")
}
