package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"

	"chronicle/pkg/observe"
	"chronicle/pkg/protocol"
)

// Fetch limits keep a busy pipeline from flooding the terminal.
const (
	sessionFetchLimit     = 50
	observationFetchLimit = 50
	searchFetchLimit      = 20
)

// tickMsg is sent by Bubble Tea on every tick interval.
// Used to trigger periodic data refresh when fsnotify is unavailable.
type tickMsg time.Time

// sessionsMsg carries fetched sessions from the pipeline database.
type sessionsMsg []protocol.Session

// observationsMsg carries fetched observations from the pipeline database.
type observationsMsg []protocol.Observation

// statusMsg carries the daemon status snapshot from the control socket.
// nil means the daemon is offline.
type statusMsg *protocol.PipelineStatus

// searchResultsMsg carries BM25-ranked search results.
type searchResultsMsg []observe.ScoredObservation

// tickCmd returns a command that sends a tickMsg after 2 seconds.
func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchSessionsCmd returns a tea.Cmd that fetches recent sessions.
func fetchSessionsCmd(dbPath string) tea.Cmd {
	return func() tea.Msg {
		sessions, _ := fetchSessions(dbPath, sessionFetchLimit)
		return sessionsMsg(sessions)
	}
}

// fetchObservationsCmd returns a tea.Cmd that fetches recent observations,
// optionally scoped to one session.
func fetchObservationsCmd(dbPath, sessionID string) tea.Cmd {
	return func() tea.Msg {
		obs, _ := fetchObservations(dbPath, sessionID, observationFetchLimit)
		return observationsMsg(obs)
	}
}

// fetchStatusCmd returns a tea.Cmd that asks the daemon for its status.
func fetchStatusCmd(socketPath string) tea.Cmd {
	return func() tea.Msg {
		status, err := fetchDaemonStatus(socketPath)
		if err != nil {
			return statusMsg(nil)
		}
		return statusMsg(status)
	}
}

// searchCmd returns a tea.Cmd that runs a full-text search.
func searchCmd(dbPath, query string) tea.Cmd {
	return func() tea.Msg {
		results, _ := searchObservations(dbPath, query, searchFetchLimit)
		return searchResultsMsg(results)
	}
}

// chronicleHome returns the state directory from CHRONICLE_HOME or ~/.chronicle.
func chronicleHome() string {
	if v := os.Getenv("CHRONICLE_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, protocol.ChronicleDir)
}

// defaultDBPath returns the pipeline database path from env or default.
func defaultDBPath() string {
	if v := os.Getenv("CHRONICLE_DB_PATH"); v != "" {
		return v
	}
	return filepath.Join(chronicleHome(), protocol.DBFile)
}

// defaultSocketPath returns the daemon control socket path from env or default.
func defaultSocketPath() string {
	if v := os.Getenv("CHRONICLE_SOCKET_PATH"); v != "" {
		return v
	}
	return filepath.Join(chronicleHome(), protocol.SocketFile)
}

// ViewType represents different views in the dashboard.
type ViewType int

const (
	// SessionsView lists tracked sessions.
	SessionsView ViewType = iota
	// ObservationsView lists recent observations.
	ObservationsView
	// SearchView shows the full-text search overlay.
	SearchView
	// DetailView shows a single observation in full.
	DetailView
)

// Model is the Bubble Tea model for the chronicle dashboard.
type Model struct {
	dbPath     string
	socketPath string

	activeView   ViewType
	previousView ViewType // view the help overlay was opened from
	showHelp     bool

	daemonHealthy bool
	status        *protocol.PipelineStatus

	// Data fetched from the pipeline database
	sessions      []protocol.Session
	observations  []protocol.Observation
	searchResults []observe.ScoredObservation

	// Navigation state
	sessionCursor     int
	observationCursor int
	searchCursor      int

	// Session scope applied to the observation list. Empty means all.
	sessionFilter string

	// Detail view state
	detail       *protocol.Observation
	detailReturn ViewType // view to return to when the detail closes

	searchInput textinput.Model

	// nil when the state directory can't be watched; tick polling covers it.
	watcher *fsnotify.Watcher

	width  int
	height int

	theme  Theme
	styles Styles
}

// newModel creates a new Model initialized with SessionsView active.
func newModel(dbPath, socketPath string) Model {
	ti := textinput.New()
	ti.Placeholder = "search observations..."
	ti.Prompt = "/ "
	ti.CharLimit = 256
	ti.Width = 56

	theme := DefaultTheme()
	return Model{
		dbPath:      dbPath,
		socketPath:  socketPath,
		activeView:  SessionsView,
		searchInput: ti,
		watcher:     initWatcher(dbPath),
		theme:       theme,
		styles:      DefaultStyles(theme),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		fetchSessionsCmd(m.dbPath),
		fetchObservationsCmd(m.dbPath, ""),
		fetchStatusCmd(m.socketPath),
		tickCmd(),
	}
	if cmd := runWatcher(m.watcher, m.dbPath); cmd != nil {
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case sessionsMsg:
		m.sessions = []protocol.Session(msg)
		m.sessionCursor = clampCursor(m.sessionCursor, len(m.sessions))

	case observationsMsg:
		m.observations = []protocol.Observation(msg)
		m.observationCursor = clampCursor(m.observationCursor, len(m.observations))

	case statusMsg:
		m.status = (*protocol.PipelineStatus)(msg)
		m.daemonHealthy = m.status != nil

	case searchResultsMsg:
		m.searchResults = []observe.ScoredObservation(msg)
		m.searchCursor = clampCursor(m.searchCursor, len(m.searchResults))

	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), tickCmd())

	case dbChangeMsg:
		// Refresh immediately, then re-arm the watcher for the next change.
		cmds := []tea.Cmd{m.refreshCmd()}
		if cmd := runWatcher(m.watcher, m.dbPath); cmd != nil {
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

// refreshCmd re-fetches everything the dashboard shows.
func (m Model) refreshCmd() tea.Cmd {
	cmds := []tea.Cmd{
		fetchSessionsCmd(m.dbPath),
		fetchObservationsCmd(m.dbPath, m.sessionFilter),
		fetchStatusCmd(m.socketPath),
	}
	if m.activeView == SearchView && m.searchInput.Value() != "" {
		cmds = append(cmds, searchCmd(m.dbPath, m.searchInput.Value()))
	}
	return tea.Batch(cmds...)
}

// clampCursor keeps a cursor inside a freshly fetched list.
func clampCursor(cursor, length int) int {
	if length == 0 {
		return 0
	}
	if cursor >= length {
		return length - 1
	}
	return cursor
}

// handleKeyPress processes keyboard input and returns updated model with optional command.
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	// Global keys (work in all views except SearchView where text input is active)
	if key == "ctrl+c" {
		return m, tea.Quit
	}

	if m.showHelp {
		if key == "?" || key == "esc" {
			m.showHelp = false
		}
		return m, nil
	}

	if m.activeView != SearchView {
		switch key {
		case "q":
			return m, tea.Quit
		case "?":
			m.previousView = m.activeView
			m.showHelp = true
			return m, nil
		}
	}

	// View-specific key handling
	switch m.activeView {
	case SearchView:
		return m.handleSearchViewKeys(msg)
	case DetailView:
		return m.handleDetailViewKeys(key)
	case ObservationsView:
		return m.handleObservationsViewKeys(key)
	default: // SessionsView
		return m.handleSessionsViewKeys(key)
	}
}

// handleSessionsViewKeys processes keyboard input in SessionsView.
func (m Model) handleSessionsViewKeys(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "j", "down":
		if m.sessionCursor < len(m.sessions)-1 {
			m.sessionCursor++
		}
	case "k", "up":
		if m.sessionCursor > 0 {
			m.sessionCursor--
		}
	case "enter":
		if len(m.sessions) > 0 && m.sessionCursor < len(m.sessions) {
			m.sessionFilter = m.sessions[m.sessionCursor].MemorySessionID
			m.observationCursor = 0
			m.activeView = ObservationsView
			return m, fetchObservationsCmd(m.dbPath, m.sessionFilter)
		}
	case "tab":
		m.sessionFilter = ""
		m.observationCursor = 0
		m.activeView = ObservationsView
		return m, fetchObservationsCmd(m.dbPath, "")
	case "/":
		return m.openSearch()
	}
	return m, nil
}

// handleObservationsViewKeys processes keyboard input in ObservationsView.
func (m Model) handleObservationsViewKeys(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "j", "down":
		if m.observationCursor < len(m.observations)-1 {
			m.observationCursor++
		}
	case "k", "up":
		if m.observationCursor > 0 {
			m.observationCursor--
		}
	case "enter":
		if len(m.observations) > 0 && m.observationCursor < len(m.observations) {
			o := m.observations[m.observationCursor]
			m.detail = &o
			m.detailReturn = ObservationsView
			m.activeView = DetailView
		}
	case "esc", "tab":
		m.sessionFilter = ""
		m.activeView = SessionsView
		return m, fetchObservationsCmd(m.dbPath, "")
	case "/":
		return m.openSearch()
	}
	return m, nil
}

// handleDetailViewKeys processes keyboard input in DetailView.
func (m Model) handleDetailViewKeys(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "esc", "backspace":
		m.detail = nil
		m.activeView = m.detailReturn
		if m.activeView == SearchView {
			return m, m.searchInput.Focus()
		}
	}
	return m, nil
}

// handleSearchViewKeys processes keyboard input in SearchView. Keystrokes
// flow into the text input; every query change re-runs the search.
func (m Model) handleSearchViewKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.searchInput.Blur()
		m.searchResults = nil
		m.searchCursor = 0
		m.activeView = SessionsView
		return m, nil
	case "enter":
		if len(m.searchResults) > 0 && m.searchCursor < len(m.searchResults) {
			o := m.searchResults[m.searchCursor].Observation
			m.detail = &o
			m.detailReturn = SearchView
			m.searchInput.Blur()
			m.activeView = DetailView
		}
		return m, nil
	case "down":
		if m.searchCursor < len(m.searchResults)-1 {
			m.searchCursor++
		}
		return m, nil
	case "up":
		if m.searchCursor > 0 {
			m.searchCursor--
		}
		return m, nil
	}

	before := m.searchInput.Value()
	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	after := m.searchInput.Value()
	if after != before {
		m.searchCursor = 0
		if after == "" {
			m.searchResults = nil
			return m, cmd
		}
		return m, tea.Batch(cmd, searchCmd(m.dbPath, after))
	}
	return m, cmd
}

// openSearch switches to SearchView with a cleared, focused input.
func (m Model) openSearch() (tea.Model, tea.Cmd) {
	m.activeView = SearchView
	m.searchResults = nil
	m.searchCursor = 0
	m.searchInput.SetValue("")
	return m, m.searchInput.Focus()
}

// View implements tea.Model.
func (m Model) View() string {
	statusBar := m.renderStatusBar()

	if m.showHelp {
		return statusBar + "\n" + m.renderHelpOverlay()
	}

	switch m.activeView {
	case ObservationsView:
		return statusBar + "\n" + renderObservationsView(m.observations, m.observationCursor, m.sessionFilter, m.theme, m.styles)
	case SearchView:
		return statusBar + "\n" + m.renderSearchOverlay()
	case DetailView:
		if m.detail != nil {
			return statusBar + "\n" + renderObservationDetail(m.detail, m.theme, m.styles)
		}
		// Fallback to sessions if detail is nil
		return statusBar + "\n" + renderSessionsView(m.sessions, m.sessionCursor, m.theme, m.styles)
	default:
		return statusBar + "\n" + renderSessionsView(m.sessions, m.sessionCursor, m.theme, m.styles)
	}
}

// renderStatusBar renders the status bar with daemon health and aggregate
// counts. Daemon counts are authoritative when online; local list lengths
// stand in when it is not.
func (m Model) renderStatusBar() string {
	theme := m.theme

	var daemonStatus string
	if m.daemonHealthy {
		daemonStatus = lipgloss.NewStyle().Foreground(theme.Success).Render("daemon: online")
	} else {
		daemonStatus = lipgloss.NewStyle().Foreground(theme.Error).Render("daemon: offline")
	}

	sessions := len(m.sessions)
	observations := len(m.observations)
	queueDepth := 0
	if m.status != nil {
		sessions = m.status.Sessions
		observations = m.status.Observations
		queueDepth = m.status.QueueDepth
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Left,
		daemonStatus,
		lipgloss.NewStyle().Render(" | Sessions: "),
		lipgloss.NewStyle().Foreground(theme.Primary).Render(fmt.Sprintf("%d", sessions)),
		lipgloss.NewStyle().Render(" | Observations: "),
		lipgloss.NewStyle().Foreground(theme.Primary).Render(fmt.Sprintf("%d", observations)),
		lipgloss.NewStyle().Render(" | Queue: "),
		lipgloss.NewStyle().Foreground(theme.Warning).Render(fmt.Sprintf("%d", queueDepth)),
	)
}

// renderSearchOverlay renders the search overlay with text input and ranked results.
func (m Model) renderSearchOverlay() string {
	title := m.styles.Title.Render("Search Observations")
	input := m.styles.SearchInput.Render(m.searchInput.View())
	helpText := m.styles.Muted.Render("enter: open result   esc: cancel")
	results := m.renderSearchResults()

	return lipgloss.JoinVertical(lipgloss.Left, title, input, helpText, results)
}

// renderSearchResults renders the ranked result list under the search input.
func (m Model) renderSearchResults() string {
	if m.searchInput.Value() == "" {
		return m.styles.Muted.Render("Type to search titles, narratives, facts and concepts.")
	}
	if len(m.searchResults) == 0 {
		return m.styles.Muted.Render("No matches.")
	}

	var b strings.Builder
	now := time.Now()
	for i, r := range m.searchResults {
		marker := "  "
		style := m.styles.Normal
		if i == m.searchCursor {
			marker = "> "
			style = m.styles.Selected
		}

		title := truncateCell(strings.ReplaceAll(r.Title, "\n", " "), 56)
		b.WriteString(marker)
		b.WriteString(typeBadge(r.Type, m.theme))
		b.WriteString(" ")
		b.WriteString(style.Render(title))
		b.WriteString(" ")
		b.WriteString(m.styles.Muted.Render(relativeAge(r.CreatedAtEpoch, now)))
		b.WriteString("\n")
	}
	return b.String()
}
