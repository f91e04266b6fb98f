package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"kb-assistant-client/internal/api"
	"kb-assistant-client/internal/config"
	"kb-assistant-client/internal/models"
	"kb-assistant-client/internal/state"
	"kb-assistant-client/internal/storage"
	"kb-assistant-client/internal/tui"
)

type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	kv     *storage.SQLiteKV
	client *state.Client
}

func (a *app) setup() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	kv, err := storage.NewSQLiteKV(cfg.Cache.Path)
	if err != nil {
		return err
	}
	a.kv = kv

	a.client = state.New(kv, func(token api.TokenFunc) api.Backend {
		return api.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, token, a.logger)
	}, a.logger)
	return nil
}

func (a *app) close() {
	if a.kv != nil {
		a.kv.Close()
	}
}

// hydrate restores session-scoped state before a non-interactive command
// that reads it.
func (a *app) hydrate(ctx context.Context) error {
	if !a.client.Session.IsAuthenticated() {
		return models.NewAuthError("not logged in, run \"assistant login\" first")
	}
	a.client.Chats.Hydrate(ctx)
	return nil
}

func confirm(prompt string, assumeYes bool) bool {
	if assumeYes {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "assistant",
		Short: "Terminal client for the AI knowledge assistant",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return tui.Run(a.client, a.logger)
		},
	}

	var assumeYes bool
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "skip confirmation prompts")

	loginCmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in and cache the session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return err
			}
			creds := models.Credentials{Username: args[0], Password: password}
			if err := a.client.Session.Login(cmd.Context(), creds); err != nil {
				return err
			}
			fmt.Printf("Logged in as %s.\n", args[0])
			return nil
		},
	}

	registerCmd := &cobra.Command{
		Use:   "register <username> <email>",
		Short: "Create an account and log in",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fullName, _ := cmd.Flags().GetString("full-name")
			password, err := readPassword("Password: ")
			if err != nil {
				return err
			}
			req := models.RegisterRequest{
				Username: args[0],
				Email:    args[1],
				FullName: fullName,
				Password: password,
			}
			if err := a.client.Session.Register(cmd.Context(), req); err != nil {
				return err
			}
			fmt.Printf("Registered and logged in as %s.\n", args[0])
			return nil
		},
	}
	registerCmd.Flags().String("full-name", "", "full name for the profile")

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Discard the cached session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.client.Session.Logout()
			fmt.Println("Logged out.")
			return nil
		},
	}

	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Probe the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Session.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Backend is healthy.")
			return nil
		},
	}

	chatsCmd := &cobra.Command{
		Use:   "chats",
		Short: "Manage chats",
	}

	chatsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List chats",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.hydrate(cmd.Context()); err != nil {
				return err
			}
			selected := a.client.Chats.Selected()
			for _, chat := range a.client.Chats.Chats() {
				marker := " "
				if chat.ID == selected {
					marker = "*"
				}
				fmt.Printf("%s %d\t%s\n", marker, chat.ID, chat.Title)
			}
			return nil
		},
	}

	chatsCreateCmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a chat and select it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.hydrate(cmd.Context()); err != nil {
				return err
			}
			chat, err := a.client.Chats.Create(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Printf("Created chat %d (%s) and selected it.\n", chat.ID, chat.Title)
			return nil
		},
	}

	chatsDeleteCmd := &cobra.Command{
		Use:   "delete <chat-id>",
		Short: "Delete a chat and everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return models.NewValidationError("chat-id", "must be a number")
			}
			if err := a.hydrate(cmd.Context()); err != nil {
				return err
			}
			if !confirm(fmt.Sprintf("Delete chat %d and all its messages and documents?", chatID), assumeYes) {
				fmt.Println("Aborted.")
				return nil
			}
			if err := a.client.Chats.Delete(cmd.Context(), chatID); err != nil {
				return err
			}
			fmt.Printf("Deleted chat %d.\n", chatID)
			return nil
		},
	}

	selectCmd := &cobra.Command{
		Use:   "select <chat-id>",
		Short: "Select the working chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return models.NewValidationError("chat-id", "must be a number")
			}
			if err := a.hydrate(cmd.Context()); err != nil {
				return err
			}
			a.client.Chats.Select(cmd.Context(), chatID)
			fmt.Printf("Selected chat %d.\n", chatID)
			return nil
		},
	}

	uploadCmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload documents into the selected chat",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.hydrate(cmd.Context()); err != nil {
				return err
			}
			chatID := a.client.Chats.Selected()
			if chatID == 0 {
				return models.NewValidationError("chat", "no chat selected, run \"assistant select\" first")
			}

			var files []state.UploadFile
			var failed int
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					fmt.Printf("%s: %v\n", path, err)
					failed++
					continue
				}
				files = append(files, state.UploadFile{Name: filepath.Base(path), Data: data})
			}

			for _, outcome := range a.client.Documents.Upload(cmd.Context(), chatID, files) {
				if outcome.Err != nil {
					fmt.Printf("%s: %v\n", outcome.Filename, outcome.Err)
					failed++
				} else {
					fmt.Printf("%s: uploaded\n", outcome.Filename)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d file(s) failed", failed)
			}
			return nil
		},
	}

	docsCmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage documents in the selected chat",
	}

	docsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List documents and their retrieval selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.hydrate(cmd.Context()); err != nil {
				return err
			}
			for _, doc := range a.client.Documents.Documents() {
				check := " "
				if doc.Selected {
					check = "x"
				}
				fmt.Printf("[%s] %s\t%s\t%s\n", check, doc.ID, doc.Filename, doc.Status)
			}
			return nil
		},
	}

	docsSelectCmd := &cobra.Command{
		Use:   "select <doc-id>",
		Short: "Include a document in the retrieval filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			off, _ := cmd.Flags().GetBool("off")
			if err := a.hydrate(cmd.Context()); err != nil {
				return err
			}
			a.client.Documents.ToggleSelection(args[0], !off)
			return nil
		},
	}
	docsSelectCmd.Flags().Bool("off", false, "exclude instead of include")

	docsRemoveCmd := &cobra.Command{
		Use:   "remove <doc-id>",
		Short: "Remove a document from the selected chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.hydrate(cmd.Context()); err != nil {
				return err
			}
			chatID := a.client.Chats.Selected()
			if chatID == 0 {
				return models.NewValidationError("chat", "no chat selected")
			}
			if !confirm(fmt.Sprintf("Remove document %s?", args[0]), assumeYes) {
				fmt.Println("Aborted.")
				return nil
			}
			return a.client.Documents.Remove(cmd.Context(), chatID, args[0])
		},
	}

	sendCmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message in the selected chat and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.hydrate(cmd.Context()); err != nil {
				return err
			}
			chatID := a.client.Chats.Selected()
			if chatID == 0 {
				return models.NewValidationError("chat", "no chat selected")
			}
			if err := a.client.Messages.Send(cmd.Context(), chatID, strings.Join(args, " ")); err != nil {
				return err
			}
			messages := a.client.Messages.Messages()
			if len(messages) > 0 {
				last := messages[len(messages)-1]
				fmt.Printf("%s: %s\n", last.Sender, last.Content)
			}
			return nil
		},
	}

	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Run a one-off query against the knowledge base",
		Long: "Runs a retrieval query with the current document selection as the " +
			"filter, without adding messages to any chat. An empty selection " +
			"searches all documents.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.hydrate(cmd.Context()); err != nil {
				return err
			}
			answer, err := a.client.Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(answer)
			return nil
		},
	}

	chatsCmd.AddCommand(chatsListCmd, chatsCreateCmd, chatsDeleteCmd)
	docsCmd.AddCommand(docsListCmd, docsSelectCmd, docsRemoveCmd)
	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, pingCmd, chatsCmd, selectCmd, uploadCmd, docsCmd, sendCmd, askCmd)

	defer a.close()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
