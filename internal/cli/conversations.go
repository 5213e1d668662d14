// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatstream/internal/export"
	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/storage"
	"github.com/jeranaias/chatstream/internal/util"
)

const (
	titleColumnWidth   = 32
	previewColumnWidth = 40
)

func (a *App) conversationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage saved conversations",
		Long: `Manage saved conversations. A conversation can be named by its id or by
its position in "conversations list" (1 is the newest).`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List conversations, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := a.conversations(cmd.Context())
				if err != nil {
					return err
				}
				printConversationList(a.out, store)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <ref>",
			Short: "Print a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				conv, err := a.resolve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.showConversation(cmd.Context(), conv)
			},
		},
		&cobra.Command{
			Use:   "switch <ref>",
			Short: "Make a conversation active",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				conv, err := a.resolve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				a.store.SetActive(conv.ID)
				fmt.Fprintln(a.out, SuccessStyle.Render("active")+" "+conv.Title)
				return nil
			},
		},
		&cobra.Command{
			Use:   "rename <ref> <title>",
			Short: "Change a conversation's title",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				conv, err := a.resolve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				newTitle := strings.TrimSpace(strings.Join(args[1:], " "))
				if newTitle == "" {
					return errors.New("title is empty")
				}
				a.store.UpdateTitle(conv.ID, newTitle)
				fmt.Fprintln(a.out, SuccessStyle.Render("renamed")+" "+newTitle)
				return nil
			},
		},
		&cobra.Command{
			Use:     "delete <ref>",
			Aliases: []string{"rm"},
			Short:   "Delete a conversation",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				conv, err := a.resolve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				a.store.DeleteConversation(conv.ID)
				fmt.Fprintln(a.out, SuccessStyle.Render("deleted")+" "+conv.Title)
				return nil
			},
		},
		a.exportCommand(),
	)
	return cmd
}

func (a *App) exportCommand() *cobra.Command {
	var (
		format    string
		outputDir string
		stdout    bool
	)
	cmd := &cobra.Command{
		Use:   "export <ref>",
		Short: "Export a conversation to Markdown, JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			opts := export.DefaultOptions()
			opts.OutputDir = outputDir
			exp, err := export.ForFormat(format, opts)
			if err != nil {
				return err
			}

			if stdout {
				data, err := exp.Export(conv)
				if err != nil {
					return err
				}
				_, err = a.out.Write(data)
				return err
			}

			path, err := export.ToFile(conv, exp, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, SuccessStyle.Render("exported")+" "+path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "output format: "+strings.Join(export.Formats(), ", "))
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "directory to write into")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "write to stdout instead of a file")
	return cmd
}

// resolve finds a conversation by list position or id.
func (a *App) resolve(ctx context.Context, ref string) (*model.Conversation, error) {
	store, err := a.conversations(ctx)
	if err != nil {
		return nil, err
	}
	return resolveConversation(store, ref)
}

func resolveConversation(store *storage.Store, ref string) (*model.Conversation, error) {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.Atoi(ref); err == nil {
		all := store.Conversations()
		if n < 1 || n > len(all) {
			return nil, errors.Errorf("no conversation at position %d (have %d)", n, len(all))
		}
		return all[n-1], nil
	}
	return store.Conversation(ref)
}

// printConversationList prints one row per conversation with the active one
// marked.
func printConversationList(w io.Writer, store *storage.Store) {
	all := store.Conversations()
	if len(all) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No conversations yet."))
		return
	}
	active := store.ActiveID()
	for i, conv := range all {
		marker := " "
		if conv.ID == active {
			marker = HighlightStyle.Render("*")
		}
		fmt.Fprintf(w, "%s %3d  %s  %s  %s  %s\n",
			marker,
			i+1,
			util.FitWidth(util.SingleLine(conv.Title), titleColumnWidth),
			DimStyle.Render(fmt.Sprintf("%3d msgs", len(conv.Messages))),
			DimStyle.Render(conv.UpdatedAt.Local().Format("2006-01-02 15:04")),
			util.FitWidth(conv.Preview(), previewColumnWidth),
		)
	}
}

// showConversation prints a transcript, rendered as Markdown on a terminal.
func (a *App) showConversation(ctx context.Context, conv *model.Conversation) error {
	exp := export.NewMarkdownExporter(&export.Options{Now: time.Now})
	data, err := exp.Export(conv)
	if err != nil {
		return err
	}
	if !isTerminalWriter(a.out) {
		_, err = a.out.Write(data)
		return err
	}
	st, err := a.settings(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, renderMarkdown(newMarkdownRenderer(st.Theme, TerminalWidth()), string(data)))
	return nil
}
