package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"sati-chat/internal/knowledge"
	"sati-chat/internal/provider"
	"sati-chat/internal/service/chat"
	"sati-chat/pkg/validation"

	"github.com/spf13/cobra"
)

// cliSession is the anonymous session id of the terminal client
const cliSession = "cli"

type selectionFlags struct {
	provider string
	model    string
}

func (f selectionFlags) validate() error {
	return validation.NewChatRequestValidator().ValidateSelection(f.provider, f.model)
}

func (f selectionFlags) override() *provider.Selection {
	if f.provider == "" {
		return nil
	}
	return &provider.Selection{Provider: f.provider, Model: f.model}
}

func (c *cli) newChatCmd() *cobra.Command {
	var (
		conversationID string
		sel            selectionFlags
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: `Starts an interactive chat. Press Ctrl-C while a reply is pending to stop it.

Commands inside the chat:
  /new               start a new conversation
  /history           show the current conversation
  /provider <id>     switch provider (groq, gemini)
  /model <id>        switch model
  /prompt <topic>    ask a starter question (see 'sati prompts')
  /quit              leave`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runChat(cmd, conversationID, sel)
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "continue a saved conversation")
	cmd.Flags().StringVar(&sel.provider, "provider", "", "provider for this chat only")
	cmd.Flags().StringVar(&sel.model, "model", "", "model for this chat only (requires --provider)")
	return cmd
}

func (c *cli) newAskCmd() *cobra.Command {
	var (
		sel   selectionFlags
		topic string
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the reply",
		Example: `  sati ask "What branches does SATI offer?"
  sati ask --prompt placements
  sati ask --provider gemini "Explain recursion"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			if topic != "" {
				question = knowledge.EnhancedPrompt(topic)
			}
			if strings.TrimSpace(question) == "" {
				return fmt.Errorf("a question or --prompt is required")
			}
			if err := sel.validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.ctx(cmd), os.Interrupt)
			defer stop()

			result, err := c.container.Chat.Send(ctx, chat.SendRequest{
				Message:   question,
				SessionID: cliSession,
				Selection: sel.override(),
			})
			if err != nil {
				return err
			}
			printReply(cmd.OutOrStdout(), c, result)
			return nil
		},
	}
	cmd.Flags().StringVar(&sel.provider, "provider", "", "provider for this question only")
	cmd.Flags().StringVar(&sel.model, "model", "", "model for this question only (requires --provider)")
	cmd.Flags().StringVar(&topic, "prompt", "", "ask a starter question instead")
	return cmd
}

func (c *cli) runChat(cmd *cobra.Command, conversationID string, sel selectionFlags) error {
	out := cmd.OutOrStdout()
	ctx := c.ctx(cmd)
	controller := c.container.Chat
	if err := sel.validate(); err != nil {
		return err
	}

	current, err := controller.Selection(ctx)
	if err != nil {
		return err
	}
	if o := sel.override(); o != nil {
		current = *o
	}
	fmt.Fprintf(out, "SATI Assistant (%s, %s). Type /help for commands.\n", current.Provider, c.container.Registry.DisplayName(current.Model))

	if conversationID != "" {
		if err := printHistory(ctx, out, c, conversationID); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := c.chatCommand(ctx, out, line, &conversationID)
			if err != nil {
				fmt.Fprintf(out, "❌ %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		// Ctrl-C during a send stops it instead of leaving the chat
		sendCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		result, err := controller.Send(sendCtx, chat.SendRequest{
			Message:        line,
			ConversationID: conversationID,
			SessionID:      cliSession,
			Selection:      sel.override(),
		})
		stop()
		if err != nil {
			fmt.Fprintf(out, "❌ %v\n", err)
			continue
		}
		conversationID = result.ConversationID
		printReply(out, c, result)
	}
}

// chatCommand runs one slash command and reports whether to leave
func (c *cli) chatCommand(ctx context.Context, out io.Writer, line string, conversationID *string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	controller := c.container.Chat

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(out, "/new  /history  /provider <id>  /model <id>  /prompt <topic>  /quit")
	case "/new":
		*conversationID = ""
		fmt.Fprintln(out, "Started a new conversation.")
	case "/history":
		if *conversationID == "" {
			fmt.Fprintln(out, "No messages yet.")
			return false, nil
		}
		return false, printHistory(ctx, out, c, *conversationID)
	case "/provider":
		sel, err := controller.SwitchProvider(ctx, arg)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Using %s (%s)\n", sel.Provider, c.container.Registry.DisplayName(sel.Model))
	case "/model":
		sel, err := controller.SetModel(ctx, arg)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Using %s (%s)\n", sel.Provider, c.container.Registry.DisplayName(sel.Model))
	case "/prompt":
		sendCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		result, err := controller.Send(sendCtx, chat.SendRequest{
			Message:        knowledge.EnhancedPrompt(arg),
			ConversationID: *conversationID,
			SessionID:      cliSession,
		})
		if err != nil {
			return false, err
		}
		*conversationID = result.ConversationID
		printReply(out, c, result)
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func printReply(out io.Writer, c *cli, result *chat.SendResult) {
	if result.Stopped {
		fmt.Fprintln(out, result.Reply)
		return
	}
	fmt.Fprintf(out, "\n%s\n\n", result.Reply)
	fmt.Fprintf(out, "(%s via %s", c.container.Registry.DisplayName(result.Model), result.Provider)
	if result.Attempts > 1 {
		fmt.Fprintf(out, ", %d attempts", result.Attempts)
	}
	fmt.Fprintln(out, ")")
}

func printHistory(ctx context.Context, out io.Writer, c *cli, conversationID string) error {
	conv, err := c.container.Chat.Conversation(ctx, "", conversationID)
	if err != nil {
		return err
	}
	messages, err := c.container.Chat.History(ctx, "", conversationID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "# %s\n", conv.Title)
	for _, m := range messages {
		fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Content)
	}
	return nil
}
