// Package ui is a terminal inspector for a live page store: cache
// residency, the lock table, and the transaction registry, refreshed on a
// tick while the store keeps serving its workload.
package ui

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"hearth/pkg/concurrency/lock"
	"hearth/pkg/memory"
)

// DefaultRefreshInterval is how often the panels re-read the store.
const DefaultRefreshInterval = 500 * time.Millisecond

type panel int

const (
	panelCache panel = iota
	panelLocks
	panelTxns
	panelCount
)

func (p panel) title() string {
	switch p {
	case panelCache:
		return "Cache"
	case panelLocks:
		return "Locks"
	case panelTxns:
		return "Transactions"
	default:
		return "?"
	}
}

type tickMsg time.Time

// Model represents the inspector state
type Model struct {
	store *memory.PageStore
	coord *memory.TransactionCoordinator

	cacheTable table.Model
	lockTable  table.Model
	txnTable   table.Model
	help       help.Model
	keys       keyMap

	interval time.Duration
	focus    panel
	width    int
	height   int
	paused   bool
	showHelp bool
	lastTick time.Time
}

// NewModel builds the inspector over a running store. A non-positive
// interval falls back to DefaultRefreshInterval.
func NewModel(store *memory.PageStore, coord *memory.TransactionCoordinator, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	cacheTable := table.New(
		table.WithColumns([]table.Column{
			{Title: "Page", Width: 30},
			{Title: "Dirty", Width: 6},
			{Title: "Owner", Width: 10},
			{Title: "Access Age", Width: 11},
			{Title: "Accesses", Width: 9},
		}),
		table.WithHeight(8),
		table.WithFocused(true),
	)
	lockTable := table.New(
		table.WithColumns([]table.Column{
			{Title: "Page", Width: 30},
			{Title: "Holder", Width: 10},
			{Title: "Mode", Width: 10},
			{Title: "Held For", Width: 11},
		}),
		table.WithHeight(6),
	)
	txnTable := table.New(
		table.WithColumns([]table.Column{
			{Title: "Txn", Width: 10},
			{Title: "Status", Width: 10},
			{Title: "Age", Width: 11},
			{Title: "Dirty", Width: 6},
			{Title: "Held", Width: 5},
			{Title: "Waiting", Width: 8},
		}),
		table.WithHeight(6),
	)
	for _, t := range []*table.Model{&cacheTable, &lockTable, &txnTable} {
		t.SetStyles(tableStyles())
	}

	m := Model{
		store:      store,
		coord:      coord,
		cacheTable: cacheTable,
		lockTable:  lockTable,
		txnTable:   txnTable,
		help:       help.New(),
		keys:       keys,
		interval:   interval,
		lastTick:   time.Now(),
	}
	return m.refresh()
}

func (m Model) Init() tea.Cmd {
	return tickEvery(m.interval)
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.NextPanel):
			m = m.setFocus((m.focus + 1) % panelCount)

		case key.Matches(msg, m.keys.PrevPanel):
			m = m.setFocus((m.focus + panelCount - 1) % panelCount)

		case key.Matches(msg, m.keys.Refresh):
			m = m.refresh()

		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused

		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp

		default:
			var cmd tea.Cmd
			switch m.focus {
			case panelCache:
				m.cacheTable, cmd = m.cacheTable.Update(msg)
			case panelLocks:
				m.lockTable, cmd = m.lockTable.Update(msg)
			case panelTxns:
				m.txnTable, cmd = m.txnTable.Update(msg)
			}
			return m, cmd
		}
		return m, nil

	case tickMsg:
		m.lastTick = time.Time(msg)
		if !m.paused {
			m = m.refresh()
		}
		return m, tickEvery(m.interval)
	}

	return m, nil
}

// setFocus moves keyboard focus to the given panel's table.
func (m Model) setFocus(p panel) Model {
	m.focus = p
	m.cacheTable.Blur()
	m.lockTable.Blur()
	m.txnTable.Blur()
	switch p {
	case panelCache:
		m.cacheTable.Focus()
	case panelLocks:
		m.lockTable.Focus()
	case panelTxns:
		m.txnTable.Focus()
	}
	return m
}

// refresh re-reads the store and rebuilds every panel's rows.
func (m Model) refresh() Model {
	now := time.Now()

	pages := m.store.CacheSnapshot()
	cacheRows := make([]table.Row, 0, len(pages))
	for _, v := range pages {
		owner := "-"
		dirty := "-"
		if v.Dirty {
			dirty = "yes"
			owner = v.Owner.String()
		}
		cacheRows = append(cacheRows, table.Row{
			v.Page.String(),
			dirty,
			owner,
			formatAge(now.Sub(v.LastAccess)),
			strconv.FormatUint(v.Accesses, 10),
		})
	}
	m.cacheTable.SetRows(cacheRows)

	held := m.store.LockSnapshot()
	slices.SortFunc(held, compareHeldLocks)
	lockRows := make([]table.Row, 0, len(held))
	for _, h := range held {
		lockRows = append(lockRows, table.Row{
			h.Page.String(),
			h.TID.String(),
			h.LockType.String(),
			formatAge(now.Sub(h.GrantTime)),
		})
	}
	m.lockTable.SetRows(lockRows)

	txnRows := make([]table.Row, 0)
	for _, v := range m.coord.Snapshot() {
		if v.Status.Terminal() {
			continue
		}
		txnRows = append(txnRows, table.Row{
			v.TID.String(),
			v.Status.String(),
			formatAge(now.Sub(v.StartedAt)),
			strconv.Itoa(v.DirtyPages),
			strconv.Itoa(v.HeldPages),
			strconv.Itoa(v.WaitingOn),
		})
	}
	m.txnTable.SetRows(txnRows)

	return m
}

func (m Model) View() string {
	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderPanel(panelCache, m.cacheTable))
	sections = append(sections, m.renderPanel(panelLocks, m.lockTable))
	sections = append(sections, m.renderPanel(panelTxns, m.txnTable))
	sections = append(sections, m.renderStatusBar())

	if m.showHelp {
		sections = append(sections, m.renderHelp())
	}

	return appStyle.Render(strings.Join(sections, "\n"))
}

func (m Model) renderHeader() string {
	title := titleStyle.Render("hearth inspector")
	occupancy := badgeStyle.Render(fmt.Sprintf("cache %d/%d",
		m.store.CacheSize(), m.store.Capacity()))
	counts := lipgloss.NewStyle().
		Foreground(textSecondary).
		Render(fmt.Sprintf("locks: %d | active txns: %d",
			len(m.lockTable.Rows()), len(m.txnTable.Rows())))

	return lipgloss.JoinHorizontal(lipgloss.Left, title, "  ", occupancy, "  ", counts)
}

func (m Model) renderPanel(p panel, t table.Model) string {
	label := panelTitleStyle.Render(p.title())
	body := panelStyle.Render(t.View())
	if m.focus == p {
		body = focusedPanelStyle.Render(t.View())
	}
	return label + "\n" + body
}

func (m Model) renderStatusBar() string {
	state := "● live"
	if m.paused {
		state = pausedStyle.Render(" paused ")
	}

	content := lipgloss.NewStyle().Foreground(accentColor).Render(state) +
		lipgloss.NewStyle().Foreground(textMuted).Render(
			fmt.Sprintf(" | refreshed %s ago | every %v | press ? for help",
				formatAge(time.Since(m.lastTick)), m.interval))

	width := m.width - 4
	if width < 0 {
		width = 0
	}
	return statusBarStyle.Width(width).Render(content)
}

func (m Model) renderHelp() string {
	helpText := m.help.FullHelpView([][]key.Binding{
		{
			m.keys.NextPanel,
			m.keys.PrevPanel,
			m.keys.Refresh,
			m.keys.Pause,
		},
		{
			m.keys.Up,
			m.keys.Down,
			m.keys.Help,
			m.keys.Quit,
		},
	})
	return helpBoxStyle.Render(helpText)
}

// updateLayout splits the window height across the three panels.
func (m *Model) updateLayout() {
	// Header, three panel labels, borders, and the status bar take
	// roughly twelve rows; the rest is table space.
	available := m.height - 12
	if available < 9 {
		available = 9
	}
	cacheHeight := available / 2
	rest := (available - cacheHeight) / 2

	m.cacheTable.SetHeight(cacheHeight)
	m.lockTable.SetHeight(rest)
	m.txnTable.SetHeight(rest)
}

// formatAge renders a duration at the precision a human scanning the
// panel needs.
func formatAge(d time.Duration) string {
	switch {
	case d < 0:
		return "0ms"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

func compareHeldLocks(a, b lock.HeldLock) int {
	switch {
	case a.Page.Table != b.Page.Table:
		if a.Page.Table < b.Page.Table {
			return -1
		}
		return 1
	case a.Page.Number != b.Page.Number:
		if a.Page.Number < b.Page.Number {
			return -1
		}
		return 1
	default:
		return int(a.TID.ID() - b.TID.ID())
	}
}
