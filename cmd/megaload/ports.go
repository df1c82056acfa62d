// go-megaload
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-megaload.
//
// go-megaload is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-megaload is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-megaload; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZaparooProject/go-megaload/detection"
)

func (a *app) newPortsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports a target may be attached to",
		Long: `Lists serial ports, most likely targets first. Only USB ports are shown
unless --all is given. Ports with the VID:PID of known modems and GPS
receivers are left out.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			opts := detection.DefaultOptions()
			opts.IncludeNonUSB = all

			ports, err := a.listPorts(opts)
			if err != nil {
				return err
			}
			for _, p := range ports {
				_, _ = fmt.Fprintf(a.stdout, "%-8s %s\n", p.Confidence, p)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include ports that are not USB devices")
	return cmd
}
