// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatstream/internal/config"
)

func (a *App) settingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show and change chat settings",
	}

	var showSecrets bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List every setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.settings(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range config.SettingNames() {
				v, _ := st.Get(name)
				fmt.Fprintln(a.out, RenderLabel(name)+" "+ValueStyle.Render(displaySetting(name, v, showSecrets)))
			}
			return nil
		},
	}
	list.Flags().BoolVar(&showSecrets, "show-secrets", false, "print API keys unmasked")

	get := &cobra.Command{
		Use:   "get <name>",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.settings(cmd.Context())
			if err != nil {
				return err
			}
			v, err := st.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, v)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Change one setting",
		Example: `  chatstream settings set api_key sk-...
  chatstream settings set temperature 0.3
  chatstream settings set theme dark`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			backing, err := a.kvStore(ctx)
			if err != nil {
				return err
			}
			if err := config.SetSetting(ctx, backing, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(a.out, SuccessStyle.Render("saved")+" "+args[0]+" = "+displaySetting(args[0], args[1], false))
			return nil
		},
	}

	cmd.AddCommand(list, get, set)
	return cmd
}

func displaySetting(name, value string, showSecrets bool) string {
	if config.IsSecret(name) && !showSecrets {
		return config.MaskSecret(value)
	}
	if value == "" {
		return DimStyle.Render("(not set)")
	}
	return value
}
