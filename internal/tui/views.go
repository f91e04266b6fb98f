package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"kb-assistant-client/internal/models"
)

const (
	chatPaneWidth = 26
	docPaneWidth  = 32
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	focusedPaneStyle = paneStyle.BorderForeground(lipgloss.Color("62"))

	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true)

	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)

	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (m *Model) layout() {
	transcriptWidth := m.width - chatPaneWidth - docPaneWidth - 6
	if transcriptWidth < 20 {
		transcriptWidth = 20
	}
	transcriptHeight := m.height - 9
	if transcriptHeight < 5 {
		transcriptHeight = 5
	}
	if m.viewport.Width == 0 {
		m.viewport = viewport.New(transcriptWidth, transcriptHeight)
	} else {
		m.viewport.Width = transcriptWidth
		m.viewport.Height = transcriptHeight
	}
	m.editor.SetWidth(transcriptWidth)
}

// refreshTranscript re-projects the transcript snapshot into the viewport.
func (m *Model) refreshTranscript() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for i, msg := range m.client.Messages.Messages() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(renderMessage(msg))
	}
	if m.client.Messages.Typing() {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(pendingStyle.Render(m.spin.View() + " Assistant is typing..."))
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func renderMessage(msg models.Message) string {
	label := userStyle.Render("You")
	if msg.Sender == models.SenderAssistant {
		label = assistantStyle.Render("Assistant")
	}
	content := msg.Content
	if msg.State == models.MessageOptimistic {
		content = pendingStyle.Render(content + " (sending...)")
	}
	return label + "\n" + content
}

func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	switch m.mode {
	case modeLogin, modeRegister:
		return m.viewAuth()
	default:
		return m.viewChat()
	}
}

func (m *Model) viewAuth() string {
	var b strings.Builder
	if m.mode == modeRegister {
		b.WriteString(titleStyle.Render("Create an account"))
	} else {
		b.WriteString(titleStyle.Render("Knowledge Assistant — Log in"))
	}
	b.WriteString("\n\n")
	b.WriteString(m.inputs[loginFieldUsername].View())
	b.WriteString("\n")
	b.WriteString(m.inputs[loginFieldPassword].View())
	if m.mode == modeRegister {
		b.WriteString("\n")
		b.WriteString(m.inputs[loginFieldEmail].View())
		b.WriteString("\n")
		b.WriteString(m.inputs[loginFieldFullName].View())
	}
	b.WriteString("\n\n")
	if m.working {
		b.WriteString(pendingStyle.Render(m.spin.View() + " Contacting server..."))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("enter: submit • tab: next field • ctrl+r: toggle register/login • ctrl+c: quit"))

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, b.String())
}

func (m *Model) viewChat() string {
	chats := m.viewChatList()
	center := m.viewTranscript()
	docs := m.viewDocuments()

	row := lipgloss.JoinHorizontal(lipgloss.Top, chats, center, docs)

	var footer string
	switch m.mode {
	case modeNewChat:
		footer = "New chat title: " + m.prompt.View()
	case modeUpload:
		footer = "Upload files: " + m.prompt.View()
	case modeConfirmDeleteChat:
		footer = statusStyle.Render("Delete this chat and its messages? (y/n)")
	case modeConfirmDeleteDoc:
		footer = statusStyle.Render("Remove this document? (y/n)")
	default:
		if m.status != "" {
			footer = statusStyle.Render(m.status)
		} else {
			footer = helpStyle.Render("tab: switch pane • enter: send/select • space: toggle doc • d: delete • ctrl+n: new chat • ctrl+u: upload • ctrl+l: logout")
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, row, footer)
}

func (m *Model) viewChatList() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Chats"))
	b.WriteString("\n")

	chats := m.client.Chats.Chats()
	selected := m.client.Chats.Selected()
	if len(chats) == 0 {
		b.WriteString(helpStyle.Render("No chats yet.\nctrl+n creates one."))
	}
	for i, chat := range chats {
		b.WriteString("\n")
		line := truncateLine(chat.Title, chatPaneWidth-6)
		if chat.ID == selected {
			line = "* " + line
		} else {
			line = "  " + line
		}
		if m.focus == paneChats && i == m.chatCursor {
			line = cursorStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line)
	}

	style := paneStyle
	if m.focus == paneChats {
		style = focusedPaneStyle
	}
	return style.Width(chatPaneWidth).Height(m.height - 4).Render(b.String())
}

func (m *Model) viewTranscript() string {
	var b strings.Builder
	selected := m.client.Chats.Selected()
	if selected == 0 {
		b.WriteString(helpStyle.Render("Select a chat to start the conversation."))
	} else {
		b.WriteString(m.viewport.View())
	}
	b.WriteString("\n")
	b.WriteString(m.editor.View())

	style := paneStyle
	if m.focus == paneEditor {
		style = focusedPaneStyle
	}
	return style.Height(m.height - 4).Render(b.String())
}

func (m *Model) viewDocuments() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Documents"))
	b.WriteString("\n")

	docs := m.client.Documents.Documents()
	if len(docs) == 0 {
		b.WriteString(helpStyle.Render("No documents.\nctrl+u uploads .pdf/.docx."))
	}
	for i, doc := range docs {
		b.WriteString("\n")
		check := "[ ]"
		if doc.Selected {
			check = "[x]"
		}
		line := fmt.Sprintf("%s %s %s", check, truncateLine(doc.Filename, docPaneWidth-14), statusBadge(doc.Status))
		if m.focus == paneDocs && i == m.docCursor {
			line = cursorStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line)
	}
	if ids := m.client.Documents.SelectedIDs(); len(ids) > 0 {
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render(fmt.Sprintf("Filtering on %d document(s).", len(ids))))
	} else if len(docs) > 0 {
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("No filter: searching all documents."))
	}

	style := paneStyle
	if m.focus == paneDocs {
		style = focusedPaneStyle
	}
	return style.Width(docPaneWidth).Height(m.height - 4).Render(b.String())
}

func statusBadge(status models.DocumentStatus) string {
	switch status {
	case models.DocumentUploading:
		return pendingStyle.Render("uploading")
	case models.DocumentProcessing:
		return pendingStyle.Render("processing")
	case models.DocumentFailed:
		return statusStyle.Render("failed")
	default:
		return ""
	}
}

func truncateLine(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func baseName(path string) string {
	return filepath.Base(path)
}
