// Package tui projects the client state onto the terminal. It never mutates
// component state directly: every user action is routed through the state
// layer's operations, and the view re-renders from fresh snapshots whenever
// any component reports a change.
package tui

import (
	"context"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"kb-assistant-client/internal/models"
	"kb-assistant-client/internal/state"
)

type mode int

const (
	modeLogin mode = iota
	modeRegister
	modeChat
	modeNewChat
	modeConfirmDeleteChat
	modeUpload
	modeConfirmDeleteDoc
)

type pane int

const (
	paneChats pane = iota
	paneEditor
	paneDocs
)

const (
	loginFieldUsername = iota
	loginFieldPassword
	loginFieldEmail
	loginFieldFullName
)

// stateChangedMsg is pushed by component subscriptions.
type stateChangedMsg struct{}

type authDoneMsg struct{ err error }
type opDoneMsg struct{ err error }
type uploadDoneMsg struct{ outcomes []models.UploadOutcome }

type Model struct {
	client *state.Client
	logger zerolog.Logger

	mode  mode
	focus pane

	width  int
	height int
	ready  bool

	inputs     []textinput.Model
	focusIndex int

	viewport viewport.Model
	editor   textarea.Model
	spin     spinner.Model
	prompt   textinput.Model

	chatCursor int
	docCursor  int

	pendingDeleteChat int64
	pendingDeleteDoc  string

	status  string
	working bool
}

func NewModel(client *state.Client, logger zerolog.Logger) *Model {
	inputs := make([]textinput.Model, 4)
	for i := range inputs {
		inputs[i] = textinput.New()
		inputs[i].CharLimit = 128
	}
	inputs[loginFieldUsername].Placeholder = "username"
	inputs[loginFieldUsername].Focus()
	inputs[loginFieldPassword].Placeholder = "password"
	inputs[loginFieldPassword].EchoMode = textinput.EchoPassword
	inputs[loginFieldEmail].Placeholder = "email"
	inputs[loginFieldFullName].Placeholder = "full name"

	editor := textarea.New()
	editor.Placeholder = "Ask a question about your documents..."
	editor.SetHeight(3)
	editor.ShowLineNumbers = false

	prompt := textinput.New()
	prompt.CharLimit = 512

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	startMode := modeLogin
	if client.Session.IsAuthenticated() {
		startMode = modeChat
		editor.Focus()
	}

	m := &Model{
		client: client,
		logger: logger.With().Str("component", "tui").Logger(),
		mode:   startMode,
		focus:  paneEditor,
		inputs: inputs,
		editor: editor,
		prompt: prompt,
		spin:   spin,
	}
	return m
}

// Run wires component subscriptions into the program and blocks until the
// user quits.
func Run(client *state.Client, logger zerolog.Logger) error {
	m := NewModel(client, logger)
	p := tea.NewProgram(m, tea.WithAltScreen())

	push := func() { p.Send(stateChangedMsg{}) }
	client.Session.Subscribe(push)
	client.Chats.Subscribe(push)
	client.Documents.Subscribe(push)
	client.Messages.Subscribe(push)

	if client.Session.IsAuthenticated() {
		go client.Chats.Hydrate(context.Background())
	}

	_, err := p.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true
		m.refreshTranscript()
		return m, nil

	case stateChangedMsg:
		// Logout (forced or manual) can arrive from any operation.
		if !m.client.Session.IsAuthenticated() && m.mode >= modeChat {
			m.mode = modeLogin
			m.focusIndex = loginFieldUsername
			m.focusLoginField()
			m.status = "Session ended. Please log in again."
		}
		m.clampCursors()
		m.refreshTranscript()
		return m, nil

	case authDoneMsg:
		m.working = false
		if msg.err != nil {
			m.status = msg.err.Error()
			return m, nil
		}
		m.mode = modeChat
		m.focus = paneEditor
		m.status = ""
		m.editor.Focus()
		return m, nil

	case opDoneMsg:
		m.working = false
		if msg.err != nil {
			m.status = msg.err.Error()
		}
		m.refreshTranscript()
		return m, nil

	case uploadDoneMsg:
		m.working = false
		m.status = summarizeOutcomes(msg.outcomes)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	switch m.mode {
	case modeLogin, modeRegister:
		return m.handleAuthKey(msg)
	case modeNewChat, modeUpload:
		return m.handlePromptKey(msg)
	case modeConfirmDeleteChat, modeConfirmDeleteDoc:
		return m.handleConfirmKey(msg)
	default:
		return m.handleChatKey(msg)
	}
}

func (m *Model) handleAuthKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	fieldCount := 2
	if m.mode == modeRegister {
		fieldCount = 4
	}

	switch msg.Type {
	case tea.KeyTab, tea.KeyDown:
		m.focusIndex = (m.focusIndex + 1) % fieldCount
		m.focusLoginField()
		return m, nil
	case tea.KeyShiftTab, tea.KeyUp:
		m.focusIndex = (m.focusIndex - 1 + fieldCount) % fieldCount
		m.focusLoginField()
		return m, nil
	case tea.KeyEnter:
		return m, m.submitAuth()
	case tea.KeyCtrlR:
		if m.mode == modeLogin {
			m.mode = modeRegister
		} else {
			m.mode = modeLogin
			if m.focusIndex >= 2 {
				m.focusIndex = loginFieldUsername
				m.focusLoginField()
			}
		}
		m.status = ""
		return m, nil
	}

	var cmd tea.Cmd
	m.inputs[m.focusIndex], cmd = m.inputs[m.focusIndex].Update(msg)
	return m, cmd
}

func (m *Model) submitAuth() tea.Cmd {
	if m.working {
		return nil
	}
	username := strings.TrimSpace(m.inputs[loginFieldUsername].Value())
	password := m.inputs[loginFieldPassword].Value()
	if username == "" || password == "" {
		m.status = "Username and password are required."
		return nil
	}

	m.working = true
	m.status = ""

	if m.mode == modeRegister {
		req := models.RegisterRequest{
			Username: username,
			Password: password,
			Email:    strings.TrimSpace(m.inputs[loginFieldEmail].Value()),
			FullName: strings.TrimSpace(m.inputs[loginFieldFullName].Value()),
		}
		return func() tea.Msg {
			return authDoneMsg{err: m.client.Session.Register(context.Background(), req)}
		}
	}

	creds := models.Credentials{Username: username, Password: password}
	return func() tea.Msg {
		return authDoneMsg{err: m.client.Session.Login(context.Background(), creds)}
	}
}

func (m *Model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = modeChat
		m.prompt.Reset()
		return m, nil
	case tea.KeyEnter:
		value := strings.TrimSpace(m.prompt.Value())
		submitted := m.mode
		m.mode = modeChat
		m.prompt.Reset()
		if value == "" {
			return m, nil
		}
		if submitted == modeNewChat {
			return m, m.createChat(value)
		}
		return m, m.uploadPaths(value)
	}

	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	confirming := m.mode
	switch msg.String() {
	case "y", "Y":
		m.mode = modeChat
		if confirming == modeConfirmDeleteChat {
			return m, m.deleteChat(m.pendingDeleteChat)
		}
		return m, m.deleteDocument(m.pendingDeleteDoc)
	case "n", "N", "esc":
		m.mode = modeChat
		return m, nil
	}
	return m, nil
}

func (m *Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyTab:
		m.focus = (m.focus + 1) % 3
		if m.focus == paneEditor {
			m.editor.Focus()
		} else {
			m.editor.Blur()
		}
		return m, nil
	case tea.KeyCtrlN:
		m.mode = modeNewChat
		m.prompt.Placeholder = "chat title"
		m.prompt.Focus()
		return m, nil
	case tea.KeyCtrlU:
		if m.client.Chats.Selected() == 0 {
			m.status = "Select a chat before uploading documents."
			return m, nil
		}
		m.mode = modeUpload
		m.prompt.Placeholder = "paths to .pdf/.docx files, space-separated"
		m.prompt.Focus()
		return m, nil
	case tea.KeyCtrlL:
		m.client.Session.Logout()
		return m, nil
	case tea.KeyEnter:
		if m.focus == paneEditor {
			return m, m.sendMessage()
		}
		if m.focus == paneChats {
			return m, m.selectChatUnderCursor()
		}
		return m, nil
	}

	switch msg.String() {
	case "up", "k":
		if m.focus == paneChats && m.chatCursor > 0 {
			m.chatCursor--
			return m, nil
		}
		if m.focus == paneDocs && m.docCursor > 0 {
			m.docCursor--
			return m, nil
		}
	case "down", "j":
		if m.focus == paneChats && m.chatCursor < len(m.client.Chats.Chats())-1 {
			m.chatCursor++
			return m, nil
		}
		if m.focus == paneDocs && m.docCursor < len(m.client.Documents.Documents())-1 {
			m.docCursor++
			return m, nil
		}
	case " ":
		if m.focus == paneDocs {
			m.toggleDocUnderCursor()
			return m, nil
		}
	case "d":
		if m.focus == paneChats {
			chats := m.client.Chats.Chats()
			if m.chatCursor < len(chats) {
				m.pendingDeleteChat = chats[m.chatCursor].ID
				m.mode = modeConfirmDeleteChat
			}
			return m, nil
		}
		if m.focus == paneDocs {
			docs := m.client.Documents.Documents()
			if m.docCursor < len(docs) && docs[m.docCursor].ID != "" {
				m.pendingDeleteDoc = docs[m.docCursor].ID
				m.mode = modeConfirmDeleteDoc
			}
			return m, nil
		}
	case "r":
		if m.focus == paneChats {
			return m, m.refreshChats()
		}
	case "esc":
		m.status = ""
		return m, nil
	}

	if m.focus == paneEditor {
		var cmd tea.Cmd
		m.editor, cmd = m.editor.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) selectChatUnderCursor() tea.Cmd {
	chats := m.client.Chats.Chats()
	if m.chatCursor >= len(chats) {
		return nil
	}
	chatID := chats[m.chatCursor].ID
	return func() tea.Msg {
		m.client.Chats.Select(context.Background(), chatID)
		return opDoneMsg{}
	}
}

func (m *Model) toggleDocUnderCursor() {
	docs := m.client.Documents.Documents()
	if m.docCursor >= len(docs) {
		return
	}
	doc := docs[m.docCursor]
	key := doc.ID
	if key == "" {
		key = doc.LocalKey
	}
	m.client.Documents.ToggleSelection(key, !doc.Selected)
}

func (m *Model) sendMessage() tea.Cmd {
	if m.client.Messages.Sending() {
		// The send affordance is disabled while one is outstanding.
		return nil
	}
	chatID := m.client.Chats.Selected()
	if chatID == 0 {
		m.status = "Create or select a chat first."
		return nil
	}
	text := m.editor.Value()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	// Input clears on submit; a failed send does not restore it.
	m.editor.Reset()
	return func() tea.Msg {
		return opDoneMsg{err: m.client.Messages.Send(context.Background(), chatID, text)}
	}
}

func (m *Model) createChat(title string) tea.Cmd {
	m.working = true
	return func() tea.Msg {
		_, err := m.client.Chats.Create(context.Background(), title)
		return opDoneMsg{err: err}
	}
}

func (m *Model) deleteChat(chatID int64) tea.Cmd {
	m.working = true
	return func() tea.Msg {
		return opDoneMsg{err: m.client.Chats.Delete(context.Background(), chatID)}
	}
}

func (m *Model) deleteDocument(docID string) tea.Cmd {
	chatID := m.client.Chats.Selected()
	m.working = true
	return func() tea.Msg {
		return opDoneMsg{err: m.client.Documents.Remove(context.Background(), chatID, docID)}
	}
}

func (m *Model) refreshChats() tea.Cmd {
	return func() tea.Msg {
		m.client.Chats.List(context.Background())
		return opDoneMsg{}
	}
}

func (m *Model) uploadPaths(raw string) tea.Cmd {
	chatID := m.client.Chats.Selected()
	paths := strings.Fields(raw)
	m.working = true
	return func() tea.Msg {
		files := make([]state.UploadFile, 0, len(paths))
		outcomes := make([]models.UploadOutcome, 0, len(paths))
		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				outcomes = append(outcomes, models.UploadOutcome{Filename: path, Err: err})
				continue
			}
			files = append(files, state.UploadFile{Name: baseName(path), Data: data})
		}
		outcomes = append(outcomes, m.client.Documents.Upload(context.Background(), chatID, files)...)
		return uploadDoneMsg{outcomes: outcomes}
	}
}

func (m *Model) clampCursors() {
	if n := len(m.client.Chats.Chats()); m.chatCursor >= n {
		m.chatCursor = max(0, n-1)
	}
	if n := len(m.client.Documents.Documents()); m.docCursor >= n {
		m.docCursor = max(0, n-1)
	}
}

func (m *Model) focusLoginField() {
	for i := range m.inputs {
		if i == m.focusIndex {
			m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
}

func summarizeOutcomes(outcomes []models.UploadOutcome) string {
	var ok, failed int
	var firstErr string
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failed++
			if firstErr == "" {
				firstErr = outcome.Filename + ": " + outcome.Err.Error()
			}
		} else {
			ok++
		}
	}
	switch {
	case failed == 0 && ok > 0:
		return "Upload complete."
	case ok == 0 && failed > 0:
		return "Upload failed: " + firstErr
	case failed > 0:
		return "Upload partially failed: " + firstErr
	default:
		return ""
	}
}
