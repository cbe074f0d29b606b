package ui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/prabalesh/topcpu/internal/client"
	"github.com/prabalesh/topcpu/internal/report"
)

// FetchFunc performs one request against the server and returns its report.
type FetchFunc func(ctx context.Context) (string, error)

type tickMsg time.Time

type reportMsg struct {
	raw     string
	entries []report.Entry
	err     error
	at      time.Time
}

// App is the watch dashboard: it polls the server every interval and shows
// the latest top-K report.
type App struct {
	addr     string
	fetch    FetchFunc
	interval time.Duration
	timeout  time.Duration

	entries  []report.Entry
	raw      string
	lastErr  error
	lastPoll time.Time
	polling  bool

	ok       int
	rejected int
	failed   int

	activeTab int
	tabs      []string
	width     int
	height    int

	table   table.Model
	spinner spinner.Model
	shares  []progress.Model
}

func NewApp(addr string, interval time.Duration, fetch FetchFunc) *App {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "PID", Width: 8},
			{Title: "NAME", Width: 20},
			{Title: "USER", Width: 10},
			{Title: "SYSTEM", Width: 10},
			{Title: "TOTAL", Width: 10},
		}),
		table.WithHeight(report.TopK+3),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Foreground(lipgloss.Color("205")).
		Bold(true)
	t.SetStyles(styles)

	shares := make([]progress.Model, report.TopK)
	for i := range shares {
		shares[i] = progress.New(progress.WithDefaultGradient(), progress.WithWidth(30))
	}

	return &App{
		addr:     addr,
		fetch:    fetch,
		interval: interval,
		timeout:  5 * time.Second,
		tabs:     []string{"Top", "Raw"},
		table:    t,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		shares:   shares,
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.poll(), a.spinner.Tick)
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(a.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) poll() tea.Cmd {
	a.polling = true
	fetch, timeout := a.fetch, a.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		raw, err := fetch(ctx)
		msg := reportMsg{raw: raw, err: err, at: time.Now()}
		if err == nil {
			msg.entries, msg.err = report.Parse(raw)
		}
		return msg
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		width := min(50, max(10, a.width-30))
		for i := range a.shares {
			a.shares[i].Width = width
		}
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "left", "h":
			if a.activeTab > 0 {
				a.activeTab--
			}
		case "right", "l", "tab":
			if a.activeTab < len(a.tabs)-1 {
				a.activeTab++
			}
		case "r":
			if !a.polling {
				return a, a.poll()
			}
		}
		return a, nil

	case tickMsg:
		if a.polling {
			return a, nil
		}
		return a, a.poll()

	case reportMsg:
		a.polling = false
		a.lastPoll = msg.at
		a.lastErr = msg.err
		switch {
		case msg.err == nil:
			a.ok++
			a.raw = msg.raw
			a.entries = msg.entries
			a.table.SetRows(rows(msg.entries))
		case errors.Is(msg.err, client.ErrRejected):
			a.rejected++
		default:
			a.failed++
		}
		return a, a.tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	return a, nil
}

func rows(entries []report.Entry) []table.Row {
	out := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		out = append(out, table.Row{
			strconv.Itoa(e.PID),
			truncateString(e.Name, 20),
			fmt.Sprintf("%.2f", e.UserTime.Seconds()),
			fmt.Sprintf("%.2f", e.KernelTime.Seconds()),
			fmt.Sprintf("%.2f", e.Total().Seconds()),
		})
	}
	return out
}

func (a *App) View() string {
	if a.width == 0 {
		return "Loading..."
	}

	title := TitleStyle.Width(a.width).Render("topcpu @ " + a.addr)

	var content string
	switch a.activeTab {
	case 0:
		content = a.renderTop()
	case 1:
		content = a.renderRaw()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		a.renderTabs(),
		"",
		content,
		"",
		a.renderStatus(),
		HelpStyle.Render("←/→ h/l: tabs • r: refresh • q: quit"),
	)
}

func (a *App) renderTabs() string {
	var tabElements []string
	for i, tab := range a.tabs {
		if i == a.activeTab {
			tabElements = append(tabElements, ActiveTabStyle.Render(tab))
		} else {
			tabElements = append(tabElements, InactiveTabStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, tabElements...)
}

func (a *App) renderTop() string {
	content := []string{
		HeaderStyle.Render(fmt.Sprintf("Top %d CPU-consuming processes", report.TopK)),
		"",
	}
	if len(a.entries) == 0 {
		content = append(content, WarningStyle.Render("no report yet"))
		return BaseStyle.Render(lipgloss.JoinVertical(lipgloss.Left, content...))
	}

	content = append(content, a.table.View(), "", HeaderStyle.Render("Share of listed CPU time"))
	var sum time.Duration
	for _, e := range a.entries {
		sum += e.Total()
	}
	for i, e := range a.entries {
		if i >= len(a.shares) {
			break
		}
		share := 0.0
		if sum > 0 {
			share = float64(e.Total()) / float64(sum)
		}
		content = append(content,
			fmt.Sprintf("%s %s", LabelStyle.Render(truncateString(e.Name, 20)), ValueStyle.Render(fmt.Sprintf("%.1f%%", share*100))),
			a.shares[i].ViewAs(share),
		)
	}
	return BaseStyle.Render(lipgloss.JoinVertical(lipgloss.Left, content...))
}

func (a *App) renderRaw() string {
	raw := a.raw
	if raw == "" {
		raw = "no report yet"
	}
	return BaseStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		HeaderStyle.Render("Last response"),
		"",
		strings.TrimRight(raw, "\n"),
	))
}

func (a *App) renderStatus() string {
	total := a.ok + a.rejected + a.failed
	rate := 0.0
	if total > 0 {
		rate = float64(a.ok) / float64(total) * 100
	}

	status := SuccessStyle.Render("ok")
	switch {
	case a.polling:
		status = a.spinner.View() + " polling"
	case errors.Is(a.lastErr, client.ErrRejected):
		status = WarningStyle.Render("rejected: server table full")
	case a.lastErr != nil:
		status = ErrorStyle.Render(a.lastErr.Error())
	}

	last := "never"
	if !a.lastPoll.IsZero() {
		last = a.lastPoll.Format("15:04:05")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		fmt.Sprintf("%s %s  %s %s", LabelStyle.Render("Status:"), status, LabelStyle.Render("Last poll:"), last),
		fmt.Sprintf("%s %d ok / %d rejected / %d failed  %s",
			LabelStyle.Render("Polls:"), a.ok, a.rejected, a.failed, RenderProgressBar(rate, 20)),
	)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
