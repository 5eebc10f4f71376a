package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bcrosbie/quoteengine/internal/domain"
	"github.com/bcrosbie/quoteengine/internal/pricing"
	qeclient "github.com/bcrosbie/quoteengine/internal/qe/client"
	qeconfig "github.com/bcrosbie/quoteengine/internal/qe/config"
	"github.com/bcrosbie/quoteengine/internal/service"
	"github.com/bcrosbie/quoteengine/internal/stages"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Backend is the subset of the quote client the browser drives.
type Backend interface {
	ListRecords(ctx context.Context, filter qeclient.ListFilter) ([]domain.WorkflowRecord, error)
	Summary(ctx context.Context) (domain.Summary, error)
	Analyze(ctx context.Context, id string) (service.RecordView, error)
	GenerateScope(ctx context.Context, id string) (service.RecordView, error)
	ApproveScope(ctx context.Context, id string, baseRateLamports int64) (service.RecordView, error)
	BeginEdit(ctx context.Context, id string) (service.RecordView, error)
	ConfirmQuote(ctx context.Context, id string) (service.RecordView, error)
	MarkReviewed(ctx context.Context, id, note string) (service.RecordView, error)
	Cancel(ctx context.Context, id, reason string) (service.RecordView, error)
}

type screen int

const (
	screenList screen = iota
	screenDetail
)

type recordsLoadedMsg struct {
	records []domain.WorkflowRecord
	summary domain.Summary
	err     error
}

type actionDoneMsg struct {
	label string
	view  service.RecordView
	err   error
}

type tickMsg time.Time

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

type model struct {
	cfg        qeconfig.Config
	backend    Backend
	screen     screen
	records    []domain.WorkflowRecord
	visible    []domain.WorkflowRecord
	summary    domain.Summary
	table      table.Model
	filter     textinput.Model
	filtering  bool
	detail     *service.RecordView
	busy       bool
	statusLine string
	statusErr  bool
	width      int
	height     int
}

func Run(cfg qeconfig.Config, backend Backend) error {
	program := tea.NewProgram(newModel(cfg, backend), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

func newModel(cfg qeconfig.Config, backend Backend) model {
	filter := textinput.New()
	filter.Prompt = "Filter: "
	filter.Placeholder = "title, client or stage"
	filter.CharLimit = 80

	records := table.New(
		table.WithColumns(columns(100)),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(lipgloss.Color("12"))
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("10"))
	records.SetStyles(styles)

	return model{
		cfg:        cfg,
		backend:    backend,
		table:      records,
		filter:     filter,
		statusLine: "loading records...",
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		loadRecordsCmd(m.backend),
		tickCmd(m.cfg.RefreshInterval),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.table.SetColumns(columns(typed.Width))
		m.table.SetHeight(maxInt(5, typed.Height-10))
		return m, nil
	case tea.KeyMsg:
		if typed.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case recordsLoadedMsg:
		if typed.err != nil {
			m.setStatus("refresh failed: "+qeclient.Describe(typed.err), true)
			return m, nil
		}
		m.records = typed.records
		m.summary = typed.summary
		m.applyFilter()
		if m.detail != nil {
			for _, record := range m.records {
				if record.ID == m.detail.Record.ID {
					view := service.View(record)
					m.detail = &view
				}
			}
		}
		if !m.statusErr {
			m.setStatus(fmt.Sprintf("%d records", len(m.records)), false)
		}
		return m, nil
	case actionDoneMsg:
		m.busy = false
		if typed.err != nil {
			m.setStatus(typed.label+" failed: "+qeclient.Describe(typed.err), true)
			return m, nil
		}
		m.detail = &typed.view
		m.setStatus(fmt.Sprintf("%s: %s is now %s", typed.label, shortID(typed.view.Record.ID), typed.view.Record.CurrentStage), false)
		return m, loadRecordsCmd(m.backend)
	case tickMsg:
		return m, tea.Batch(loadRecordsCmd(m.backend), tickCmd(m.cfg.RefreshInterval))
	}

	switch m.screen {
	case screenDetail:
		return m.updateDetail(msg)
	default:
		return m.updateList(msg)
	}
}

func (m model) View() string {
	var body string
	switch m.screen {
	case screenDetail:
		body = m.viewDetail()
	default:
		body = m.viewList()
	}
	status := okStyle.Render(m.statusLine)
	if m.statusErr {
		status = errStyle.Render(m.statusLine)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Quote Engine"),
		mutedStyle.Render(m.summaryLine()),
		"",
		body,
		"",
		status,
	)
}

func (m model) updateList(msg tea.Msg) (model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		if m.filtering {
			switch key.String() {
			case "enter", "esc":
				m.filtering = false
				m.filter.Blur()
				m.table.Focus()
				return m, nil
			}
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.applyFilter()
			return m, cmd
		}

		switch key.String() {
		case "q":
			return m, tea.Quit
		case "/":
			m.filtering = true
			m.table.Blur()
			return m, m.filter.Focus()
		case "r":
			m.setStatus("refreshing...", false)
			return m, loadRecordsCmd(m.backend)
		case "enter":
			record, ok := m.selected()
			if !ok {
				return m, nil
			}
			view := service.View(record)
			m.detail = &view
			m.screen = screenDetail
			return m, nil
		}
		if record, ok := m.selected(); ok {
			if next, cmd, handled := m.runAction(key.String(), record.ID); handled {
				return next, cmd
			}
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m model) updateDetail(msg tea.Msg) (model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok || m.detail == nil {
		return m, nil
	}
	switch key.String() {
	case "q":
		return m, tea.Quit
	case "esc", "backspace":
		m.screen = screenList
		return m, nil
	}
	if next, cmd, handled := m.runAction(key.String(), m.detail.Record.ID); handled {
		return next, cmd
	}
	return m, nil
}

// runAction maps a key to a record operation.
func (m model) runAction(key, id string) (model, tea.Cmd, bool) {
	if m.busy {
		return m, nil, false
	}
	var (
		label string
		call  func(context.Context) (service.RecordView, error)
	)
	switch key {
	case "a":
		label = "analyze"
		call = func(ctx context.Context) (service.RecordView, error) { return m.backend.Analyze(ctx, id) }
	case "s":
		label = "generate scope"
		call = func(ctx context.Context) (service.RecordView, error) { return m.backend.GenerateScope(ctx, id) }
	case "p":
		label = "approve scope"
		rate := m.cfg.BaseRateLamports
		call = func(ctx context.Context) (service.RecordView, error) { return m.backend.ApproveScope(ctx, id, rate) }
	case "e":
		label = "begin edit"
		call = func(ctx context.Context) (service.RecordView, error) { return m.backend.BeginEdit(ctx, id) }
	case "c":
		label = "confirm"
		call = func(ctx context.Context) (service.RecordView, error) { return m.backend.ConfirmQuote(ctx, id) }
	case "v":
		label = "review"
		call = func(ctx context.Context) (service.RecordView, error) {
			return m.backend.MarkReviewed(ctx, id, "reviewed from qe tui")
		}
	case "x":
		label = "cancel"
		call = func(ctx context.Context) (service.RecordView, error) {
			return m.backend.Cancel(ctx, id, "cancelled from qe tui")
		}
	default:
		return m, nil, false
	}

	m.busy = true
	m.setStatus(label+"...", false)
	timeout := m.cfg.RequestTimeout
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), maxDuration(timeout, time.Second))
		defer cancel()
		view, err := call(ctx)
		return actionDoneMsg{label: label, view: view, err: err}
	}, true
}

func (m model) viewList() string {
	lines := []string{
		sectionStyle.Render("Records"),
		m.filter.View(),
		fmt.Sprintf("Showing %d of %d", len(m.visible), len(m.records)),
		m.table.View(),
		mutedStyle.Render("Enter: details | /: filter | r: refresh | a s p e c v x: actions | q: quit"),
	}
	return strings.Join(lines, "\n")
}

func (m model) viewDetail() string {
	if m.detail == nil {
		return mutedStyle.Render("no record selected")
	}
	record := m.detail.Record
	lines := []string{
		sectionStyle.Render(defaultString(record.Title, "(untitled)")),
		"ID: " + record.ID,
		"Stage: " + stageLabel(record.CurrentStage),
		"Client: " + defaultString(record.ClientID, "-") + "  Counterparty: " + defaultString(record.CounterpartyID, "-"),
		"Expires: " + record.ExpiresAt.Local().Format(time.RFC822),
	}
	if record.RequiresHumanReview {
		lines = append(lines, warnStyle.Render("Requires human review: "+strings.Join(record.ComplianceFlags, ", ")))
	}
	for _, note := range record.RiskNotes {
		lines = append(lines, mutedStyle.Render("  risk: "+note))
	}
	if record.Extraction != nil && len(record.Extraction.OpenQuestions) > 0 {
		lines = append(lines, "", sectionStyle.Render("Open questions"))
		for _, question := range record.Extraction.OpenQuestions {
			lines = append(lines, fmt.Sprintf("  [%s] %s", question.ID, question.Question))
		}
	}
	if record.Scope != nil {
		lines = append(lines, "", sectionStyle.Render("Scope"), fmt.Sprintf("  %d deliverables, %.1f hours, %d out of scope", len(record.Scope.Deliverables), record.Scope.TotalHours(), len(record.Scope.OutOfScope)))
	}
	if record.Pricing != nil {
		lines = append(lines, "", sectionStyle.Render("Pricing"),
			fmt.Sprintf("  labour %s  contingency %s  fixed %s  discount %s",
				formatSOL(record.Pricing.LabourLamports),
				formatSOL(record.Pricing.ContingencyLamports),
				formatSOL(record.Pricing.FixedFeeLamports),
				formatSOL(record.Pricing.DiscountLamports),
			),
			okStyle.Render("  total "+formatSOL(record.Pricing.TotalLamports)),
		)
	}
	lines = append(lines, "", sectionStyle.Render("History"))
	start := maxInt(0, len(record.History)-6)
	for _, transition := range record.History[start:] {
		lines = append(lines, fmt.Sprintf("  %s  %s (%s)",
			transition.At.Local().Format("15:04:05"), transition.Stage, transition.Trigger))
	}
	actions := make([]string, 0, len(m.detail.NextActions))
	for _, action := range m.detail.NextActions {
		actions = append(actions, string(action))
	}
	lines = append(lines, "",
		"Next: "+defaultString(strings.Join(actions, ", "), "none"),
		mutedStyle.Render("a: analyze | s: scope | p: approve | e: edit | c: confirm | v: review | x: cancel | Esc: back"),
	)
	return strings.Join(lines, "\n")
}

func (m *model) applyFilter() {
	query := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	m.visible = m.visible[:0]
	for _, record := range m.records {
		if query == "" || matches(record, query) {
			m.visible = append(m.visible, record)
		}
	}
	rows := make([]table.Row, 0, len(m.visible))
	for _, record := range m.visible {
		total := "-"
		if record.Pricing != nil {
			total = formatSOL(record.Pricing.TotalLamports)
		}
		review := ""
		if record.RequiresHumanReview {
			review = "!"
		}
		rows = append(rows, table.Row{
			shortID(record.ID),
			record.Title,
			defaultString(record.ClientID, "-"),
			string(record.CurrentStage),
			total,
			review,
		})
	}
	m.table.SetRows(rows)
	if m.table.Cursor() >= len(rows) {
		m.table.SetCursor(maxInt(0, len(rows)-1))
	}
}

func (m model) selected() (domain.WorkflowRecord, bool) {
	cursor := m.table.Cursor()
	if cursor < 0 || cursor >= len(m.visible) {
		return domain.WorkflowRecord{}, false
	}
	return m.visible[cursor], true
}

func (m *model) setStatus(line string, isErr bool) {
	m.statusLine = line
	m.statusErr = isErr
}

func (m model) summaryLine() string {
	return fmt.Sprintf("%d records | %d awaiting review | quoted %s | confirmed %s | funded %s",
		m.summary.Counts.Records,
		m.summary.Counts.AwaitingReview,
		formatSOL(m.summary.Totals.QuotedLamports),
		formatSOL(m.summary.Totals.ConfirmedLamports),
		formatSOL(m.summary.Totals.FundedLamports),
	)
}

func loadRecordsCmd(backend Backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		records, err := backend.ListRecords(ctx, qeclient.ListFilter{})
		if err != nil {
			return recordsLoadedMsg{err: err}
		}
		summary, err := backend.Summary(ctx)
		return recordsLoadedMsg{records: records, summary: summary, err: err}
	}
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(maxDuration(interval, time.Second), func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func columns(width int) []table.Column {
	title := maxInt(16, width-62)
	return []table.Column{
		{Title: "ID", Width: 10},
		{Title: "Title", Width: title},
		{Title: "Client", Width: 12},
		{Title: "Stage", Width: 16},
		{Title: "Total", Width: 14},
		{Title: "Rev", Width: 3},
	}
}

func matches(record domain.WorkflowRecord, query string) bool {
	for _, field := range []string{record.ID, record.Title, record.ClientID, record.CounterpartyID, string(record.CurrentStage)} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func stageLabel(stage domain.Stage) string {
	if stages.IsTerminal(stage) {
		return mutedStyle.Render(string(stage) + " (terminal)")
	}
	return string(stage)
}

func formatSOL(lamports int64) string {
	return fmt.Sprintf("%.4f SOL", pricing.ToSOL(lamports))
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
