// Package adminui implements the interactive admin TUI using Bubble Tea.
package adminui

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/khang26042012/NexoraX-AI/internal/adminapi"
)

// logLimit is how many log lines the logs screen asks for.
const logLimit = 40

var (
	accent     = lipgloss.Color("#7D56F4")
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	tabStyle   = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("245"))
	activeTab  = tabStyle.Bold(true).Foreground(lipgloss.Color("230")).Background(accent)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(0, 2)
)

// state represents the current screen in the admin UI.
type state int

const (
	stateDashboard state = iota
	stateUsers
	stateLogs
	stateConfig
	stateSetKey
)

var tabs = []struct {
	st    state
	key   string
	label string
}{
	{stateDashboard, "1", "Dashboard"},
	{stateUsers, "2", "Users"},
	{stateLogs, "3", "Logs"},
	{stateConfig, "4", "Config"},
}

// Model holds all UI state for the admin TUI.
type Model struct {
	client *adminapi.Client
	addr   string

	st     state
	err    string
	notice string
	width  int

	stats adminapi.Stats
	usage adminapi.Usage

	users   []adminapi.User
	userLst list.Model

	logs []string

	cfg    adminapi.Config
	keyLst list.Model
	setKey textinput.Model
}

// New constructs a UI model and initializes inputs and lists.
func New(client *adminapi.Client, addr string) Model {
	lst := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	lst.Title = "Users"

	keyLst := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	keyLst.Title = "Provider API keys"
	keyLst.SetFilteringEnabled(false)

	m := Model{client: client, st: stateDashboard, userLst: lst, keyLst: keyLst}
	m.addr = redactAddr(addr)

	m.setKey = textinput.New()
	m.setKey.Placeholder = "new api key"
	m.setKey.EchoMode = textinput.EchoPassword
	m.setKey.Prompt = "API key: "

	return m
}

// Init returns the initial command for the Bubble Tea runtime.
func (m Model) Init() tea.Cmd {
	return refreshDashboardCmd(m.client)
}

type errMsg string
type dashboardMsg struct {
	stats adminapi.Stats
	usage adminapi.Usage
}
type usersMsg []adminapi.User
type logsMsg []string
type configMsg adminapi.Config
type okMsg string

// Update routes messages based on UI state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.userLst.SetSize(msg.Width-4, msg.Height-8)
		m.keyLst.SetSize(msg.Width-4, msg.Height-10)
		return m, nil
	case errMsg:
		m.err = string(msg)
		m.notice = ""
		return m, nil
	case dashboardMsg:
		m.stats, m.usage = msg.stats, msg.usage
		m.err = ""
		return m, nil
	case usersMsg:
		m.users = []adminapi.User(msg)
		items := make([]list.Item, 0, len(m.users))
		for _, u := range m.users {
			items = append(items, userItem(u))
		}
		m.userLst.SetItems(items)
		m.err = ""
		return m, nil
	case logsMsg:
		m.logs = []string(msg)
		m.err = ""
		return m, nil
	case configMsg:
		m.cfg = adminapi.Config(msg)
		services := make([]string, 0, len(m.cfg.APIKeys))
		for svc := range m.cfg.APIKeys {
			services = append(services, svc)
		}
		sort.Strings(services)
		items := make([]list.Item, 0, len(services))
		for _, svc := range services {
			items = append(items, keyItem{service: svc, masked: m.cfg.APIKeys[svc]})
		}
		m.keyLst.SetItems(items)
		m.err = ""
		return m, nil
	case okMsg:
		m.err = ""
		m.notice = string(msg)
		return m, nil
	}

	if m.st == stateSetKey {
		return m.updateSetKey(msg)
	}

	if k, ok := msg.(tea.KeyMsg); ok && !m.filtering() {
		switch k.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			return m.switchTo(tabs[(m.tabIndex()+1)%len(tabs)].st)
		}
		for _, t := range tabs {
			if k.String() == t.key {
				return m.switchTo(t.st)
			}
		}
	}

	switch m.st {
	case stateDashboard:
		if k, ok := msg.(tea.KeyMsg); ok && k.String() == "r" {
			return m, refreshDashboardCmd(m.client)
		}
		return m, nil

	case stateUsers:
		var cmd tea.Cmd
		m.userLst, cmd = m.userLst.Update(msg)
		if k, ok := msg.(tea.KeyMsg); ok && !m.filtering() {
			switch k.String() {
			case "r":
				return m, refreshUsersCmd(m.client)
			case "d":
				u, ok := m.selectedUser()
				if !ok {
					return m, nil
				}
				return m, tea.Sequence(deleteUserCmd(m.client, u.Username), refreshUsersCmd(m.client))
			case "u":
				u, ok := m.selectedUser()
				if !ok {
					return m, nil
				}
				return m, tea.Sequence(unlockCmd(m.client, u.Username), refreshUsersCmd(m.client))
			}
		}
		return m, cmd

	case stateLogs:
		if k, ok := msg.(tea.KeyMsg); ok && k.String() == "r" {
			return m, refreshLogsCmd(m.client)
		}
		return m, nil

	case stateConfig:
		var cmd tea.Cmd
		m.keyLst, cmd = m.keyLst.Update(msg)
		if k, ok := msg.(tea.KeyMsg); ok {
			switch k.String() {
			case "r":
				return m, refreshConfigCmd(m.client)
			case "enter", "e":
				if _, ok := m.selectedKey(); !ok {
					return m, nil
				}
				m.st = stateSetKey
				m.err = ""
				m.notice = ""
				m.setKey.SetValue("")
				m.setKey.Focus()
				return m, textinput.Blink
			}
		}
		return m, cmd

	default:
		return m, nil
	}
}

// switchTo changes screen and loads its data.
func (m Model) switchTo(st state) (tea.Model, tea.Cmd) {
	m.st = st
	m.err = ""
	m.notice = ""
	switch st {
	case stateUsers:
		return m, refreshUsersCmd(m.client)
	case stateLogs:
		return m, refreshLogsCmd(m.client)
	case stateConfig:
		return m, refreshConfigCmd(m.client)
	default:
		return m, refreshDashboardCmd(m.client)
	}
}

func (m Model) tabIndex() int {
	for i, t := range tabs {
		if t.st == m.st {
			return i
		}
	}
	return 0
}

func (m Model) filtering() bool {
	return m.st == stateUsers && m.userLst.FilterState() == list.Filtering
}

// updateSetKey handles input while replacing a provider key.
func (m Model) updateSetKey(msg tea.Msg) (tea.Model, tea.Cmd) {
	it, ok := m.selectedKey()
	if !ok {
		m.st = stateConfig
		return m, nil
	}
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc":
			m.setKey.Blur()
			m.st = stateConfig
			return m, nil
		case "ctrl+c":
			return m, tea.Quit
		case "enter":
			key := strings.TrimSpace(m.setKey.Value())
			if key == "" {
				m.err = "api key is required"
				return m, nil
			}
			m.setKey.SetValue("")
			m.setKey.Blur()
			m.st = stateConfig
			return m, tea.Sequence(setKeyCmd(m.client, it.service, key), refreshConfigCmd(m.client))
		}
	}
	var cmd tea.Cmd
	m.setKey, cmd = m.setKey.Update(msg)
	return m, cmd
}

// View renders the current screen as a string.
func (m Model) View() string {
	var b strings.Builder
	title := "NexoraX admin"
	if m.addr != "" {
		title += " (" + m.addr + ")"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(m.tabBar())
	b.WriteString("\n\n")

	switch m.st {
	case stateDashboard:
		b.WriteString(m.dashboardView())
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("r=refresh tab/1-4=switch q=quit"))
	case stateUsers:
		b.WriteString(m.userLst.View())
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("d=delete u=unlock r=refresh /=filter q=quit"))
	case stateLogs:
		if len(m.logs) == 0 {
			b.WriteString(dimStyle.Render("no log lines (is the server started with -log-file?)"))
		}
		for _, l := range m.logs {
			b.WriteString(l + "\n")
		}
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("r=refresh q=quit"))
	case stateConfig:
		b.WriteString(m.configView())
		b.WriteString("\n")
		b.WriteString(m.keyLst.View())
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("enter=set key r=refresh q=quit"))
	case stateSetKey:
		if it, ok := m.selectedKey(); ok {
			b.WriteString("Set API key for: " + it.service + "\n\n")
		}
		b.WriteString(m.setKey.View())
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("enter=save esc=back"))
	}

	if m.notice != "" {
		b.WriteString("\n\n" + okStyle.Render(m.notice))
	}
	if m.err != "" {
		b.WriteString("\n\n" + errStyle.Render("Error: "+m.err))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) tabBar() string {
	parts := make([]string, 0, len(tabs))
	cur := m.st
	if cur == stateSetKey {
		cur = stateConfig
	}
	for _, t := range tabs {
		label := t.key + " " + t.label
		if t.st == cur {
			parts = append(parts, activeTab.Render(label))
		} else {
			parts = append(parts, tabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m Model) dashboardView() string {
	s := m.stats
	left := fmt.Sprintf(
		"Users            %d\nActive sessions  %d\nRate limited     %d\nLocked           %d\nAI calls         %d\nUptime           %s\nVersion          %s",
		s.Users, s.ActiveSessions, s.RateLimited, s.LockedUsers, s.TotalCalls,
		(time.Duration(s.UptimeSeconds) * time.Second).String(), s.Version,
	)

	var r strings.Builder
	fmt.Fprintf(&r, "Calls %d, unique users %d\n", m.usage.TotalCalls, m.usage.UniqueUsers)
	for _, kv := range sortedCounts(m.usage.ModelsStats) {
		fmt.Fprintf(&r, "\n%-28s %d", kv.name, kv.n)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(left),
		" ",
		boxStyle.Render(strings.TrimRight(r.String(), "\n")),
	)
}

func (m Model) configView() string {
	c := m.cfg
	return boxStyle.Render(fmt.Sprintf(
		"Gemini model     %s\nAllowed origins  %s\nSession TTL      %s\nRemember TTL     %s\nMax attempts     %d\nAttempt window   %s",
		c.GeminiModel, strings.Join(c.AllowedOrigins, ", "), c.SessionTTL, c.RememberTTL, c.MaxAttempts, c.AttemptWindow,
	))
}

type count struct {
	name string
	n    int
}

// sortedCounts orders by count descending, then name.
func sortedCounts(m map[string]int) []count {
	out := make([]count, 0, len(m))
	for k, v := range m {
		out = append(out, count{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].name < out[j].name
	})
	return out
}

type userItem adminapi.User

func (u userItem) Title() string { return u.Username }
func (u userItem) Description() string {
	parts := []string{fmt.Sprintf("sessions=%d", u.Sessions)}
	if u.Attempts > 0 {
		parts = append(parts, fmt.Sprintf("failed=%d", u.Attempts))
	}
	if adminapi.User(u).Locked(time.Now()) {
		parts = append(parts, "locked until "+time.Unix(u.LockedUntil, 0).Format(time.TimeOnly))
	}
	if u.Hashed {
		parts = append(parts, "hashed")
	}
	return strings.Join(parts, " ")
}
func (u userItem) FilterValue() string { return u.Username }

type keyItem struct {
	service string
	masked  string
}

func (k keyItem) Title() string { return k.service }
func (k keyItem) Description() string {
	if k.masked == "" {
		return "not configured"
	}
	return k.masked
}
func (k keyItem) FilterValue() string { return k.service }

// selectedUser returns the highlighted user, if any.
func (m *Model) selectedUser() (adminapi.User, bool) {
	if it, ok := m.userLst.SelectedItem().(userItem); ok {
		return adminapi.User(it), true
	}
	return adminapi.User{}, false
}

func (m *Model) selectedKey() (keyItem, bool) {
	it, ok := m.keyLst.SelectedItem().(keyItem)
	return it, ok
}

func refreshDashboardCmd(c *adminapi.Client) tea.Cmd {
	return func() tea.Msg {
		st, err := c.Stats()
		if err != nil {
			return errMsg(err.Error())
		}
		us, err := c.Usage()
		if err != nil {
			return errMsg(err.Error())
		}
		return dashboardMsg{stats: st, usage: us}
	}
}

func refreshUsersCmd(c *adminapi.Client) tea.Cmd {
	return func() tea.Msg {
		users, err := c.ListUsers()
		if err != nil {
			return errMsg(err.Error())
		}
		return usersMsg(users)
	}
}

func refreshLogsCmd(c *adminapi.Client) tea.Cmd {
	return func() tea.Msg {
		lines, err := c.Logs(logLimit)
		if err != nil {
			return errMsg(err.Error())
		}
		return logsMsg(lines)
	}
}

func refreshConfigCmd(c *adminapi.Client) tea.Cmd {
	return func() tea.Msg {
		cfg, err := c.Config()
		if err != nil {
			return errMsg(err.Error())
		}
		return configMsg(cfg)
	}
}

func deleteUserCmd(c *adminapi.Client, username string) tea.Cmd {
	return func() tea.Msg {
		if err := c.DeleteUser(username); err != nil {
			return errMsg(err.Error())
		}
		return okMsg("deleted " + username)
	}
}

func unlockCmd(c *adminapi.Client, username string) tea.Cmd {
	return func() tea.Msg {
		if err := c.ClearRateLimit(username); err != nil {
			return errMsg(err.Error())
		}
		return okMsg("cleared rate limit for " + username)
	}
}

func setKeyCmd(c *adminapi.Client, service, key string) tea.Cmd {
	return func() tea.Msg {
		msg, err := c.SetAPIKey(service, key)
		if err != nil {
			return errMsg(err.Error())
		}
		return okMsg(msg)
	}
}

func redactAddr(addr string) string {
	u, err := url.Parse(addr)
	if err != nil {
		return ""
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	return u.Scheme + "://" + u.Host
}

// IsLocalAddr reports whether addr points at this machine. TLS
// verification is skipped for local https addresses by default.
func IsLocalAddr(addr string) bool {
	u, err := url.Parse(addr)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
