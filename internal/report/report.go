// Package report renders the terminal summary of a run.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ia-eknorr/shipgate/internal/failure"
	"github.com/ia-eknorr/shipgate/internal/orchestrator"
	shiptypes "github.com/ia-eknorr/shipgate/pkg/types"
)

// Labels printed in the outcome banner.
const (
	LabelDeployed   = "DEPLOYED"
	LabelGateFailed = "GATE FAILED"
	LabelTimedOut   = "TIMED OUT"
	LabelFatal      = "FATAL"
)

type styles struct {
	Deployed   lipgloss.Style
	GateFailed lipgloss.Style
	TimedOut   lipgloss.Style
	Fatal      lipgloss.Style
	Box        lipgloss.Style
	Key        lipgloss.Style
	Muted      lipgloss.Style
	Pass       lipgloss.Style
	Fail       lipgloss.Style
}

func newStyles() styles {
	banner := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	return styles{
		Deployed: banner.
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("28")),
		GateFailed: banner.
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("160")),
		TimedOut: banner.
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("214")),
		Fatal: banner.
			Foreground(lipgloss.Color("196")).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(lipgloss.Color("196")),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		Key:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		Muted: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Pass:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Fail:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// Label returns the banner label for kind.
func Label(kind failure.Kind) string {
	switch kind {
	case "":
		return LabelDeployed
	case failure.KindGateFailure:
		return LabelGateFailed
	case failure.KindTimeout:
		return LabelTimedOut
	default:
		return LabelFatal
	}
}

// Render returns the summary of res.
func Render(res orchestrator.Result) string {
	s := newStyles()
	kind := res.Kind()

	var banner lipgloss.Style
	switch kind {
	case "":
		banner = s.Deployed
	case failure.KindGateFailure:
		banner = s.GateFailed
	case failure.KindTimeout:
		banner = s.TimedOut
	default:
		banner = s.Fatal
	}

	var lines []string
	kv := func(k, v string) {
		if v != "" {
			lines = append(lines, s.Key.Render(k+":")+" "+v)
		}
	}

	kv("run", res.RunID)
	kv("application", res.Application)
	if res.Runtime != nil {
		kv("runtime", fmt.Sprintf("%s (started=%t)", res.Runtime.Profile, res.Runtime.Started))
	}
	for _, st := range res.Steps {
		mark := s.Pass.Render("ok")
		if st.Err != nil {
			mark = s.Fail.Render(string(failure.KindOf(st.Err)))
		}
		lines = append(lines, fmt.Sprintf("  %-20s %-14s %s", st.Component, mark, s.Muted.Render(st.Duration.Round(time.Millisecond).String())))
	}

	if op := res.Sync; op != nil {
		kv("sync", fmt.Sprintf("%s (sync=%s health=%s)", op.Outcome, orDash(op.SyncStatus), orDash(op.HealthStatus)))
		kv("revision", op.Revision)
		for _, h := range op.Hooks {
			verdict := string(h.Verdict)
			switch h.Verdict {
			case shiptypes.VerdictPass:
				verdict = s.Pass.Render(verdict)
			case shiptypes.VerdictFail:
				verdict = s.Fail.Render(verdict)
			}
			lines = append(lines, fmt.Sprintf("  hook %s/%s %s", h.Phase, h.Name, verdict))
		}
	}

	if fe, ok := failure.As(res.Err); ok {
		kv("component", fe.Component)
		kv("reason", fe.Reason)
		kv("attempted", fe.Attempted)
		kv("observed", fe.Observed)
		if fe.Err != nil {
			kv("error", fe.Err.Error())
		}
		kv("remediation", fe.Remediation)
	} else if res.Err != nil {
		kv("error", res.Err.Error())
	}

	if res.Sync != nil && res.Sync.Diagnostics != nil {
		lines = append(lines, diagnostics(s, res.Sync.Diagnostics)...)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		banner.Render(Label(kind)),
		s.Box.Render(strings.Join(lines, "\n")),
	) + "\n"
}

func diagnostics(s styles, d *shiptypes.Diagnostics) []string {
	var lines []string
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		lines = append(lines, s.Key.Render(title+":"))
		for _, it := range items {
			lines = append(lines, "  "+it)
		}
	}

	if d.OperationPhase != "" {
		lines = append(lines, s.Key.Render("operation:")+" "+d.OperationPhase+" "+s.Muted.Render(d.OperationMessage))
	}
	if d.HealthMessage != "" {
		lines = append(lines, s.Key.Render("health message:")+" "+d.HealthMessage)
	}
	section("resources", d.Resources)
	section("conditions", d.Conditions)
	section("history", d.History)

	names := make([]string, 0, len(d.HookLogs))
	for name := range d.HookLogs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		section("logs "+name, strings.Split(strings.TrimRight(d.HookLogs[name], "\n"), "\n"))
	}
	if d.LastError != "" {
		lines = append(lines, s.Key.Render("last error:")+" "+d.LastError)
	}
	return lines
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
