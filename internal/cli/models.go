// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatstream/internal/config"
)

func (a *App) modelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List available models",
		Long: `List the models offered by the API. If the selected model is not among
them, the first one is selected and saved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ep, err := a.endpoint(ctx)
			if err != nil {
				return err
			}
			models, err := a.cloudClient().ListModels(ctx, ep)
			if err != nil {
				return err
			}

			st, err := a.settings(ctx)
			if err != nil {
				return err
			}
			selected, changed := config.ReconcileModel(models, st.Model)
			if changed {
				backing, err := a.kvStore(ctx)
				if err != nil {
					return err
				}
				if err := config.SetSetting(ctx, backing, config.SettingModel, selected); err != nil {
					return err
				}
				a.log.Info().Str("from", st.Model).Str("to", selected).Msg("selected model not offered, switched")
			}

			for _, m := range models {
				marker := "  "
				if m == selected {
					marker = HighlightStyle.Render("*") + " "
				}
				fmt.Fprintln(a.out, marker+m)
			}
			return nil
		},
	}
}
