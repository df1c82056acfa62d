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
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/ZaparooProject/go-megaload"
)

// progressReporter draws a progress bar over the writable pages. The bar is
// created on the first update, once the page count is known.
type progressReporter struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

func (p *progressReporter) update(pr megaload.Progress) {
	if p.bar == nil {
		_, _ = fmt.Fprintln(p.out)
		p.bar = progressbar.NewOptions(pr.Pages,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("Writing"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(false),
		)
	}
	_ = p.bar.Set(pr.Page + 1)
}

func (p *progressReporter) finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	_, _ = fmt.Fprintln(p.out)
}
