package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/velvetroom/narrative-engine/pkg/story"
)

// ConsoleUI is the BubbleTea model that runs the narrative player.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	config        *ConsoleConfig
	client        *http.Client
	storyViewport viewport.Model
	metaViewport  viewport.Model
	ready         bool
	width         int
	height        int
	err           error
	loading       bool

	current        *TransitionResponse
	transcript     []transcriptEntry
	selectedChoice int
	statusMsg      string

	// Story selection state
	showStoryModal bool
	stories        []StorySummary
	selectedStory  int
	loadingStories bool

	// Quit confirmation state
	showQuitModal bool
}

type transcriptEntry struct {
	speaker string
	text    string
}

type storiesLoadedMsg struct {
	stories []StorySummary
	err     error
}

type transitionMsg struct {
	response *TransitionResponse
	err      error
}

var (
	storyPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	atmosphereStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // grey
			Italic(true)

	choiceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	selectedChoiceStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("205")).
				Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	loadingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)

	modalItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))
)

func NewConsoleUI(cfg *ConsoleConfig, client *http.Client) ConsoleUI {
	storyVp := viewport.New(50, 20)
	storyVp.MouseWheelEnabled = true

	metaVp := viewport.New(20, 20)

	return ConsoleUI{
		config:         cfg,
		client:         client,
		storyViewport:  storyVp,
		metaViewport:   metaVp,
		showStoryModal: true,
		loadingStories: true,
	}
}

func (m ConsoleUI) Init() tea.Cmd {
	return m.loadStories()
}

func (m ConsoleUI) loadStories() tea.Cmd {
	return func() tea.Msg {
		stories, err := listStories(m.client, m.config.APIBaseURL)
		return storiesLoadedMsg{stories, err}
	}
}

func (m ConsoleUI) startSelectedStory() tea.Cmd {
	storyID := m.stories[m.selectedStory].ID
	return func() tea.Msg {
		resp, err := startStory(m.client, m.config.APIBaseURL, m.config.UserID, storyID)
		return transitionMsg{resp, err}
	}
}

func (m ConsoleUI) transition(fn func() (*TransitionResponse, error)) tea.Cmd {
	return func() tea.Msg {
		resp, err := fn()
		return transitionMsg{resp, err}
	}
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showStoryModal {
		return m.updateStoryModal(msg)
	}
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	var (
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.storyViewport, vpCmd = m.storyViewport.Update(msg)
		return m, vpCmd

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.writeStoryContent()
		m.metaViewport.SetContent(m.writeMetadata())
		m.ready = true

	case tea.KeyMsg:
		return m.handleKey(msg)

	case transitionMsg:
		m.loading = false
		if msg.err != nil {
			m.statusMsg = errorStyle.Render(msg.err.Error())
		} else {
			m.applyTransition(msg.response)
		}
		m.writeStoryContent()
		m.metaViewport.SetContent(m.writeMetadata())
	}

	m.storyViewport, vpCmd = m.storyViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)
	return m, tea.Batch(vpCmd, mvCmd)
}

func (m *ConsoleUI) resize(width, height int) {
	m.width = width
	m.height = height

	storyWidth := int(float64(m.width)*0.72) - 4
	metaWidth := m.width - storyWidth - 6

	m.storyViewport.Width = storyWidth - 2
	m.storyViewport.Height = m.height - 5
	m.metaViewport.Width = metaWidth - 2
	m.metaViewport.Height = m.height - 4
}

func (m ConsoleUI) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.loading {
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
			m.showQuitModal = true
		}
		return m, nil
	}

	fragment := m.currentFragment()

	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.showQuitModal = true
		return m, nil

	case tea.KeyUp:
		if fragment != nil && m.selectedChoice > 0 {
			m.selectedChoice--
			m.writeStoryContent()
		}
		return m, nil

	case tea.KeyDown:
		if fragment != nil && m.selectedChoice < len(fragment.Choices)-1 {
			m.selectedChoice++
			m.writeStoryContent()
		}
		return m, nil

	case tea.KeyEnter:
		if fragment == nil {
			return m, nil
		}
		if fragment.IsDecision() && len(fragment.Choices) > 0 {
			return m.takeChoice(fragment.Choices[m.selectedChoice])
		}
		return m.navigate(navigateNext)
	}

	switch msg.String() {
	case "1", "2", "3", "4", "5", "6":
		if fragment == nil || !fragment.IsDecision() {
			return m, nil
		}
		idx := int(msg.String()[0] - '1')
		if idx < len(fragment.Choices) {
			return m.takeChoice(fragment.Choices[idx])
		}

	case "n":
		return m.navigate(navigateNext)

	case "b":
		return m.navigate(goBack)

	case "c":
		if err := clipboard.WriteAll(m.plainTranscript()); err != nil {
			m.statusMsg = errorStyle.Render("Copy failed: " + err.Error())
		} else {
			m.statusMsg = loadingStyle.Render("Transcript copied to clipboard")
		}
		m.writeStoryContent()

	case "r":
		m.loading = true
		m.statusMsg = ""
		return m, m.transition(func() (*TransitionResponse, error) {
			return getCurrent(m.client, m.config.APIBaseURL, m.config.UserID)
		})

	case "q":
		m.showQuitModal = true
	}

	return m, nil
}

func (m ConsoleUI) takeChoice(c story.Choice) (tea.Model, tea.Cmd) {
	m.loading = true
	m.statusMsg = ""
	m.transcript = append(m.transcript, transcriptEntry{speaker: "You", text: c.Text})
	m.writeStoryContent()

	choiceID := c.ID
	return m, m.transition(func() (*TransitionResponse, error) {
		return makeChoice(m.client, m.config.APIBaseURL, m.config.UserID, choiceID)
	})
}

func (m ConsoleUI) navigate(fn func(*http.Client, string, string) (*TransitionResponse, error)) (tea.Model, tea.Cmd) {
	m.loading = true
	m.statusMsg = ""
	m.writeStoryContent()

	return m, m.transition(func() (*TransitionResponse, error) {
		return fn(m.client, m.config.APIBaseURL, m.config.UserID)
	})
}

func (m *ConsoleUI) applyTransition(resp *TransitionResponse) {
	m.current = resp
	m.selectedChoice = 0
	m.statusMsg = ""

	if resp.Fragment == nil {
		return
	}
	if resp.Fragment.AtmosphereText != "" {
		m.transcript = append(m.transcript, transcriptEntry{speaker: "", text: resp.Fragment.AtmosphereText})
	}
	m.transcript = append(m.transcript, transcriptEntry{speaker: "Narrator", text: resp.Fragment.NarratorText})
	if resp.Fragment.IsEnding() {
		m.transcript = append(m.transcript, transcriptEntry{speaker: "", text: "THE END"})
	}
}

func (m *ConsoleUI) currentFragment() *story.Fragment {
	if m.current == nil {
		return nil
	}
	return m.current.Fragment
}

func (m *ConsoleUI) plainTranscript() string {
	var b strings.Builder
	for _, entry := range m.transcript {
		if entry.speaker != "" {
			b.WriteString(entry.speaker + ": ")
		}
		b.WriteString(entry.text + "\n\n")
	}
	return b.String()
}

// writeStoryContent rebuilds the story panel for the current viewport width.
func (m *ConsoleUI) writeStoryContent() {
	width := m.storyViewport.Width - 6
	if width < 20 {
		width = 20
	}

	var content strings.Builder
	content.WriteString(titleStyle.Render("NARRATIVE ENGINE") + "\n\n")
	content.WriteString(separatorStyle.Render(strings.Repeat("─", width)) + "\n\n")

	for _, entry := range m.transcript {
		switch entry.speaker {
		case "Narrator":
			content.WriteString(narratorStyle.Render("Narrator: ") + wordwrap.String(entry.text, width-10) + "\n\n")
		case "You":
			content.WriteString(userStyle.Render("You: ") + wordwrap.String(entry.text, width-5) + "\n\n")
		default:
			content.WriteString(atmosphereStyle.Render(wordwrap.String(entry.text, width)) + "\n\n")
		}
	}

	if fragment := m.currentFragment(); fragment != nil && fragment.IsDecision() && !m.loading {
		content.WriteString(separatorStyle.Render(strings.Repeat("─", width)) + "\n")
		for i, c := range fragment.Choices {
			line := fmt.Sprintf("%d. %s", i+1, c.Text)
			if c.Hint != "" {
				line += promptStyle.Render("  (" + c.Hint + ")")
			}
			if i == m.selectedChoice {
				content.WriteString(selectedChoiceStyle.Render("▶ "+line) + "\n")
			} else {
				content.WriteString(choiceStyle.Render("  "+line) + "\n")
			}
		}
		content.WriteString("\n")
	}

	if m.loading {
		content.WriteString(loadingStyle.Render("...") + "\n")
	}
	if m.statusMsg != "" {
		content.WriteString(m.statusMsg + "\n")
	}

	m.storyViewport.SetContent(content.String())
	m.storyViewport.GotoBottom()
}

func (m *ConsoleUI) writeMetadata() string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("PROGRESS") + "\n\n")

	content.WriteString("User:\n")
	content.WriteString(m.config.UserID + "\n\n")

	if m.current != nil && m.current.Progress != nil {
		p := m.current.Progress
		content.WriteString("Story:\n")
		content.WriteString(p.ActiveStory + "\n\n")
		content.WriteString(fmt.Sprintf("Chapter: %d\n", p.CurrentChapter))
		content.WriteString(fmt.Sprintf("Completion: %.1f%%\n", p.CompletionPercent))
		content.WriteString(fmt.Sprintf("Fragments: %d\n", p.FragmentsVisited))
		content.WriteString(fmt.Sprintf("Decisions: %d\n\n", p.TotalDecisions))
	}

	content.WriteString("Commands:\n")
	content.WriteString("• ↑/↓: Select choice\n")
	content.WriteString("• 1-6: Choose by number\n")
	content.WriteString("• Enter/n: Continue\n")
	content.WriteString("• b: Go back\n")
	content.WriteString("• c: Copy transcript\n")
	content.WriteString("• r: Refresh position\n")
	content.WriteString("• q: Quit\n")

	return content.String()
}

func (m ConsoleUI) updateStoryModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case storiesLoadedMsg:
		m.loadingStories = false
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.stories = msg.stories
		}

	case transitionMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.showStoryModal = false
		m.err = nil
		m.applyTransition(msg.response)
		m.writeStoryContent()
		m.metaViewport.SetContent(m.writeMetadata())
		m.ready = true

	case tea.KeyMsg:
		if m.loadingStories || m.loading {
			if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
				return m, tea.Quit
			}
			return m, nil
		}

		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyUp:
			if m.selectedStory > 0 {
				m.selectedStory--
			}
		case tea.KeyDown:
			if m.selectedStory < len(m.stories)-1 {
				m.selectedStory++
			}
		case tea.KeyEnter:
			if m.err != nil {
				// A rejected start (VIP, level) leaves the modal open; let
				// the user pick another story.
				m.err = nil
				return m, nil
			}
			if len(m.stories) > 0 {
				m.loading = true
				return m, m.startSelectedStory()
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				return m, nil
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Leave the Story?"))
	content.WriteString("\n\n")
	content.WriteString("Your progress is saved automatically.")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) renderStoryModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder

	switch {
	case m.loadingStories:
		content.WriteString(modalTitleStyle.Render("Loading Stories..."))
		content.WriteString("\n\n")
		content.WriteString(loadingStyle.Render("Please wait while we fetch available stories..."))
	case m.err != nil:
		content.WriteString(modalTitleStyle.Render("Error"))
		content.WriteString("\n\n")
		content.WriteString(errorStyle.Render(m.err.Error()))
		content.WriteString("\n\n")
		content.WriteString(promptStyle.Render("Press Enter to go back, Ctrl+C to exit"))
	case m.loading:
		content.WriteString(modalTitleStyle.Render("Starting Story..."))
		content.WriteString("\n\n")
		content.WriteString(loadingStyle.Render("Opening the first page..."))
	default:
		content.WriteString(modalTitleStyle.Render("Select a Story"))
		content.WriteString("\n\n")

		for i, s := range m.stories {
			label := s.Title
			if s.RequiresVIP {
				label += " [VIP]"
			}
			if s.MinLevel > 1 {
				label += fmt.Sprintf(" [Level %d+]", s.MinLevel)
			}
			if i == m.selectedStory {
				content.WriteString(selectedChoiceStyle.Render("▶ " + label))
			} else {
				content.WriteString(modalItemStyle.Render("  " + label))
			}
			content.WriteString("\n")
		}

		content.WriteString("\n")
		content.WriteString(promptStyle.Render("Use ↑/↓ to navigate, Enter to select, Ctrl+C to exit"))
	}

	modal := modalStyle.Width(60).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showStoryModal {
		return m.renderStoryModal()
	}
	if m.showQuitModal {
		return m.renderQuitModal()
	}
	if !m.ready {
		return "\n  Initializing..."
	}

	storyWidth := int(float64(m.width)*0.72) - 4
	metaWidth := m.width - storyWidth - 6

	storyPanel := storyPanelStyle.Width(storyWidth).Height(m.height - 3).Render(
		m.storyViewport.View(),
	)
	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, storyPanel, metaPanel)
}
