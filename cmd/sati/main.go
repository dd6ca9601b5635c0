package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"sati-chat/internal/app"
	"sati-chat/internal/config"
	"sati-chat/internal/logger"
	"sati-chat/internal/notify"
	"sati-chat/internal/prefs"
	"sati-chat/internal/service/chat"
	"sati-chat/internal/service/llm"

	"github.com/spf13/cobra"
)

// Replaced in tests
var loadConfig = config.LoadConfig

// newSender returns the transport; nil selects the HTTP client
var newSender = func() llm.Sender { return nil }

// cli carries the flags and the lazily built container shared by commands
type cli struct {
	logLevel  string
	prefsPath string

	appConfig *config.AppConfig
	store     prefs.Store
	container *app.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "sati",
		Short: "SATI Assistant - campus chatbot in the terminal",
		Long: `sati talks to the SATI college assistant through the Groq and Gemini proxies.

Questions about the institute (admissions, programs, placements, campus life)
are answered with the built-in knowledge base; anything else goes to the
selected model as a general question.

Run without arguments to start the interactive chat.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runChat(cmd, "", selectionFlags{})
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&c.prefsPath, "prefs", "", "preference file (default PREFS_PATH)")

	rootCmd.AddCommand(
		c.newChatCmd(),
		c.newAskCmd(),
		c.newModelsCmd(),
		c.newProviderCmd(),
		c.newModelCmd(),
		c.newThemeCmd(),
		c.newTestCmd(),
		c.newStatusCmd(),
		c.newConversationsCmd(),
		c.newPromptsCmd(),
	)
	return rootCmd
}

func (c *cli) init(cmd *cobra.Command) error {
	logger.Configure(c.logLevel, cmd.ErrOrStderr())

	appConfig, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if c.prefsPath != "" {
		appConfig.Prefs.Path = c.prefsPath
	}
	c.appConfig = appConfig

	store, err := prefs.NewSQLiteStore(appConfig.Prefs.Path)
	if err != nil {
		return err
	}
	c.store = store

	// the terminal is a single device, so anonymous chats are kept locally
	container, err := app.NewConfig(nil, store, appConfig, newSender(),
		chat.WithLocalHistory(),
		chat.WithNotifier(printNotices(cmd.ErrOrStderr())),
	)
	if err != nil {
		return err
	}
	c.container = container
	return nil
}

func (c *cli) close() error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	return err
}

func (c *cli) ctx(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// printNotices writes notices as single status lines
func printNotices(w io.Writer) notify.Notifier {
	return notify.Func(func(n notify.Notice) {
		fmt.Fprintf(w, "%s %s\n", noticeIcon(n.Level), n.Message)
	})
}

func noticeIcon(level string) string {
	switch level {
	case notify.Success:
		return "✅"
	case notify.Warning:
		return "⚠️"
	case notify.Error:
		return "❌"
	default:
		return "ℹ️"
	}
}
