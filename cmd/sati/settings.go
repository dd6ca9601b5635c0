package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"sati-chat/internal/knowledge"

	"github.com/spf13/cobra"
)

func (c *cli) newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List providers and their models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := c.container.Registry
			current, err := c.container.Chat.Selection(c.ctx(cmd))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\tPROVIDER\tMODEL\tNAME")
			for _, id := range registry.Providers() {
				models, err := registry.Models(id)
				if err != nil {
					return err
				}
				for _, m := range models {
					mark := ""
					if id == current.Provider && m == current.Model {
						mark = "*"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, id, m, registry.DisplayName(m))
				}
			}
			return w.Flush()
		},
	}
}

func (c *cli) newProviderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provider [groq|gemini]",
		Short: "Show or switch the provider",
		Long: `Without an argument prints the saved provider. Switching provider keeps the
model when the new provider serves it and otherwise falls back to its default.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := c.ctx(cmd)
			if len(args) == 0 {
				sel, err := c.container.Chat.Selection(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), sel.Provider)
				return nil
			}
			sel, err := c.container.Chat.SwitchProvider(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", sel.Provider, sel.Model)
			return nil
		},
	}
}

func (c *cli) newModelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "model [id]",
		Short: "Show or select a model of the current provider",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := c.ctx(cmd)
			if len(args) == 0 {
				sel, err := c.container.Chat.Selection(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), sel.Model)
				return nil
			}
			sel, err := c.container.Chat.SetModel(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", sel.Provider, sel.Model)
			return nil
		},
	}
}

func (c *cli) newThemeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "theme [dark|light]",
		Short:     "Show or set the theme",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"dark", "light"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := c.ctx(cmd)
			p := c.container.Prefs
			if len(args) == 1 {
				if err := p.SetTheme(ctx, args[0]); err != nil {
					return err
				}
			}
			theme, err := p.Theme(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme)
			return nil
		},
	}
}

func (c *cli) newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test [groq|gemini]",
		Short: "Send a test message to a provider",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := c.ctx(cmd)
			providerID := ""
			if len(args) == 1 {
				providerID = args[0]
			} else {
				sel, err := c.container.Chat.Selection(ctx)
				if err != nil {
					return err
				}
				providerID = sel.Provider
			}

			reply, err := c.container.Chat.TestConnection(ctx, providerID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if reply.Failure != nil {
				fmt.Fprintln(out, reply.Failure.Text)
				return fmt.Errorf("%s connection test failed: %s", providerID, reply.Failure.Message)
			}
			fmt.Fprintf(out, "✅ %s (%s) responded:\n%s\n", providerID, reply.Model, reply.Text)
			return nil
		},
	}
}

func (c *cli) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show API key usage reported by the proxies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status := c.container.Chat.Status()
			out := cmd.OutOrStdout()
			if len(status) == 0 {
				fmt.Fprintln(out, "No key usage reported yet.")
				return nil
			}

			ids := make([]string, 0, len(status))
			for id := range status {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tKEY\tAVAILABLE\tFAILED\tTOTAL\tUPDATED")
			for _, id := range ids {
				s := status[id]
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", id, s.LastKeyUsed, s.Stats.Available, s.Stats.Failed, s.Stats.Total, s.LastUpdated.Format(time.Kitchen))
			}
			return w.Flush()
		},
	}
}

func (c *cli) newConversationsCmd() *cobra.Command {
	var bookmarked bool
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List saved conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := c.ctx(cmd)
			list := c.container.Chat.Conversations
			if bookmarked {
				list = c.container.Chat.Bookmarked
			}
			convs, err := list(ctx, "")
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tUPDATED\t")
			for _, conv := range convs {
				mark := ""
				if conv.IsBookmarked {
					mark = "★"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", conv.ID, conv.Title, conv.UpdatedAt.Local().Format(time.DateTime), mark)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVarP(&bookmarked, "bookmarked", "b", false, "only bookmarked conversations")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return printHistory(c.ctx(cmd), cmd.OutOrStdout(), c, args[0])
			},
		},
		&cobra.Command{
			Use:   "rename <id> <title>",
			Short: "Rename a conversation",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.container.Chat.Rename(c.ctx(cmd), "", args[0], strings.Join(args[1:], " "))
			},
		},
		&cobra.Command{
			Use:   "bookmark <id>",
			Short: "Toggle the bookmark of a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				on, err := c.container.Chat.ToggleBookmark(c.ctx(cmd), "", args[0])
				if err != nil {
					return err
				}
				if on {
					fmt.Fprintln(cmd.OutOrStdout(), "Bookmarked")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Bookmark removed")
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.container.Chat.Delete(c.ctx(cmd), "", args[0])
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every saved conversation",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.container.Prefs.ClearLocalConversations(c.ctx(cmd))
			},
		},
	)
	return cmd
}

func (c *cli) newPromptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prompts",
		Short: "List starter questions about the institute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, kind := range knowledge.EnhancedKinds() {
				fmt.Fprintf(w, "%s\t%s\n", kind, knowledge.EnhancedPrompt(kind))
			}
			return w.Flush()
		},
	}
}
