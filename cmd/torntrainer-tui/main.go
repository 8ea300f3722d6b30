package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"github.com/tornwatch/torntrainer/pkg/store"
)

// Config
const (
	pollRate       = time.Second
	maxActions     = 20
	viewportHeight = 20
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)

	actionTimeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(20)
	barStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))

	alertStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // Red
	planStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // Green
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))  // Blue
)

type tickMsg time.Time

type dataMsg struct {
	snapshot map[string]any
	actions  []store.ActionRecord
	watches  []store.MarketWatch
	err      error
}

type model struct {
	store    *store.Store
	spinner  spinner.Model
	viewport viewport.Model
	snapshot map[string]any
	actions  []store.ActionRecord
	watches  []store.MarketWatch
	err      error
	ready    bool
}

func initialModel(st *store.Store) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		store:   st,
		spinner: s,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchData(m.store),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, fetchData(m.store), tick())

	case dataMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.snapshot = msg.snapshot
			m.actions = msg.actions
			m.watches = msg.watches
			m.updateViewportContent()
		}
		if !m.ready {
			m.ready = true
		}

	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, viewportHeight)
			m.viewport.Style = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				PaddingRight(2)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = viewportHeight
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *model) updateViewportContent() {
	var sb strings.Builder

	for _, a := range m.actions {
		ts := a.Timestamp.Local().Format("15:04:05")

		var kindStr string
		switch a.Kind {
		case "market_alert":
			kindStr = alertStyle.Render(a.Kind)
		case "plan_train":
			kindStr = planStyle.Render(a.Kind)
		default:
			kindStr = infoStyle.Render(a.Kind)
		}

		sb.WriteString(fmt.Sprintf("%s %s %s\n",
			actionTimeStyle.Render(ts),
			kindStr,
			subtleStyle.Render(summarize(a)),
		))
	}

	m.viewport.SetContent(sb.String())
}

// summarize renders one short detail string for an audit row.
func summarize(a store.ActionRecord) string {
	var result map[string]any
	if len(a.Result) > 0 {
		json.Unmarshal(a.Result, &result)
	}
	if outcome, ok := result["outcome"].(string); ok {
		if status, ok := result["status"].(float64); ok {
			return fmt.Sprintf("%s (HTTP %.0f)", outcome, status)
		}
		return outcome
	}
	var payload map[string]any
	if len(a.Payload) > 0 {
		json.Unmarshal(a.Payload, &payload)
	}
	if b, err := json.Marshal(payload); err == nil && len(payload) > 0 {
		s := string(b)
		if len(s) > 60 {
			s = s[:60] + "…"
		}
		return s
	}
	return ""
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Initializing...", m.spinner.View())
	}

	// Top pane: latest bars and recommendations from the snapshot.
	var top strings.Builder
	top.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Player State") + "\n\n")
	if m.snapshot == nil {
		top.WriteString(subtleStyle.Render("No snapshot recorded yet."))
	} else {
		top.WriteString(barStyle.Render(barsLine(m.snapshot)) + "\n")
		for _, line := range recommendationLines(m.snapshot) {
			top.WriteString("• " + line + "\n")
		}
	}
	topPane := paneStyle.Render(top.String())

	// Market pane: watched items with thresholds and last observed price.
	var market strings.Builder
	market.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Market Watch") + "\n\n")
	if len(m.watches) == 0 {
		market.WriteString(subtleStyle.Render("No items watched."))
	} else {
		for _, w := range m.watches {
			market.WriteString(watchLine(w) + "\n")
		}
	}
	marketPane := paneStyle.Render(market.String())

	header := headerStyle.Render(fmt.Sprintf("%s Action Log", m.spinner.View()))
	bottomPane := m.viewport.View()

	var status string
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	} else {
		status = okStyle.Render(fmt.Sprintf("Connected • %d Actions", len(m.actions)))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\nPress q to quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, topPane, marketPane, header, bottomPane, footer)
}

func watchLine(w store.MarketWatch) string {
	threshold := func(f float64, valid bool) string {
		if !valid {
			return "—"
		}
		return fmt.Sprintf("%.0f", f)
	}
	price := subtleStyle.Render("no price yet")
	if w.LastSeenPrice.Valid {
		price = fmt.Sprintf("last %.0f", w.LastSeenPrice.Float64)
	}
	return fmt.Sprintf("• item %d  buy ≤ %s  sell ≥ %s  %s",
		w.ItemID,
		threshold(w.BuyThreshold.Float64, w.BuyThreshold.Valid),
		threshold(w.SellThreshold.Float64, w.SellThreshold.Valid),
		price)
}

func barsLine(snapshot map[string]any) string {
	user, _ := snapshot["user"].(map[string]any)
	bars, _ := user["bars"].(map[string]any)
	read := func(name string) string {
		bar, _ := bars[name].(map[string]any)
		cur, ok := bar["current"].(float64)
		if !ok {
			return "?"
		}
		if max, ok := bar["maximum"].(float64); ok {
			return fmt.Sprintf("%.0f/%.0f", cur, max)
		}
		return fmt.Sprintf("%.0f", cur)
	}
	return fmt.Sprintf("Energy %s   Nerve %s   Happy %s", read("energy"), read("nerve"), read("happy"))
}

func recommendationLines(snapshot map[string]any) []string {
	recs, _ := snapshot["recommendations"].([]any)
	if len(recs) == 0 {
		return []string{subtleStyle.Render("No recommendations.")}
	}
	var lines []string
	for _, raw := range recs {
		rec, _ := raw.(map[string]any)
		if msg, ok := rec["message"].(string); ok {
			lines = append(lines, msg)
		}
	}
	return lines
}

// Commands

func fetchData(st *store.Store) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		snapshot, err := st.LastSnapshot(ctx)
		if err != nil {
			return dataMsg{err: err}
		}
		actions, err := st.RecentActions(ctx, maxActions)
		if err != nil {
			return dataMsg{err: err}
		}
		watches, err := st.MarketWatchAll(ctx)
		if err != nil {
			return dataMsg{err: err}
		}
		return dataMsg{snapshot: snapshot, actions: actions, watches: watches}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	_ = godotenv.Load()
	dbPath := os.Getenv("TORN_DB_PATH")
	if dbPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "torntrainer-tui: %v\n", err)
			os.Exit(1)
		}
		dbPath = filepath.Join(cwd, "torn.db")
	}

	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "torntrainer-tui: failed to open %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer st.Close()

	p := tea.NewProgram(initialModel(st), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
