package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/store/relational"
)

var (
	inspectStyleBorder = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
	inspectStyleGray   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func newInspectCommand(configFile *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Browse recent visits in a terminal UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(*configFile)
			if err != nil {
				return err
			}
			defer store.Close()

			visits, err := store.RecentVisits(limit)
			if err != nil {
				return fmt.Errorf("recent visits: %w", err)
			}

			model, err := newInspectModel(store, visits)
			if err != nil {
				return err
			}
			_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of recent visits to list")
	return cmd
}

// visitItem adapts domain.Visit to bubbles/list's list.Item interface.
type visitItem struct {
	visit domain.Visit
}

func (i visitItem) Title() string { return i.visit.URL }
func (i visitItem) Description() string {
	return i.visit.PageLoadedAt.Local().Format("2006-01-02 15:04:05")
}
func (i visitItem) FilterValue() string { return i.visit.URL }

// inspectModel is the pkmctl inspect TUI's Bubble Tea model: a list of
// recent visits on the left, a glamour-rendered detail pane on the right.
// Grounded on the teacher's tui_chat.ChatTUI Model/Update/View skeleton
// (viewport-backed render pane, WindowSizeMsg-driven layout) and
// tui_styles.go's lipgloss color palette, adapted from a chat transcript
// to a two-pane browser since the teacher has no list.Model precedent.
type inspectModel struct {
	store    *relational.Store
	list     list.Model
	renderer *glamour.TermRenderer
	detail   string
	width    int
	height   int
}

func newInspectModel(store *relational.Store, visits []domain.Visit) (*inspectModel, error) {
	items := make([]list.Item, len(visits))
	for i, v := range visits {
		items[i] = visitItem{visit: v}
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Recent Visits"
	l.SetShowHelp(true)

	renderer, err := glamour.NewTermRenderer(glamour.WithStandardStyle("dark"), glamour.WithWordWrap(80))
	if err != nil {
		return nil, fmt.Errorf("init markdown renderer: %w", err)
	}

	m := &inspectModel{store: store, list: l, renderer: renderer}
	m.detail = "select a visit to inspect"
	return m, nil
}

func (m *inspectModel) Init() tea.Cmd {
	return nil
}

func (m *inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.SetSize(msg.Width/2, msg.Height-2)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "enter":
			m.loadDetail()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *inspectModel) loadDetail() {
	item, ok := m.list.SelectedItem().(visitItem)
	if !ok {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", item.visit.URL)
	fmt.Fprintf(&b, "- loaded: %s\n", item.visit.PageLoadedAt.Local().Format("2006-01-02 15:04:05"))
	if item.visit.Referrer != "" {
		fmt.Fprintf(&b, "- referrer: %s\n", item.visit.Referrer)
	}
	if item.visit.TreeID != "" {
		fmt.Fprintf(&b, "- tree: %s\n", item.visit.TreeID)
	}

	analysis, err := m.store.GetPageAnalysis(item.visit.ID)
	if err != nil {
		fmt.Fprintf(&b, "\n_failed to load page analysis: %v_\n", err)
	} else if analysis != nil {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", analysis.Title, analysis.Summary)
		if len(analysis.Intentions) > 0 {
			b.WriteString("\nIntentions:\n")
			for _, intent := range analysis.Intentions {
				fmt.Fprintf(&b, "- %s\n", intent)
			}
		}
	} else {
		b.WriteString("\n_no page analysis recorded yet_\n")
	}

	rendered, err := m.renderer.Render(b.String())
	if err != nil {
		m.detail = b.String()
		return
	}
	m.detail = rendered
}

func (m *inspectModel) View() string {
	listView := inspectStyleBorder.Width(m.width/2 - 2).Height(m.height - 4).Render(m.list.View())
	detailView := inspectStyleBorder.Width(m.width/2 - 2).Height(m.height - 4).Render(m.detail)
	help := inspectStyleGray.Render("↑/↓ navigate · enter inspect · q quit")
	return lipgloss.JoinVertical(lipgloss.Left, lipgloss.JoinHorizontal(lipgloss.Top, listView, detailView), help)
}
