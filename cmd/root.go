/*
 * Copyright (C) 2024 waltid-identity community
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 *
 */

// Package cmd implements the command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCommand returns the root command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "waltid",
		Short:         "Credential issuance and verification server.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newRedeemCommand())
	return cmd
}

// Execute runs the command line interface.
func Execute() error {
	return NewRootCommand().Execute()
}
