// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package workflow

import (
	"io"
	"time"

	"hostbench/internal/scheduler"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func printSummary(w io.Writer, experimentID string, o scheduler.Outcome) {
	if w == nil {
		return
	}
	p := message.NewPrinter(language.English) // use printer to get commas at thousands
	p.Fprintf(w, "\nExperiment %s: %s after %v\n", experimentID, o.State, o.Duration.Round(time.Millisecond))
	p.Fprintf(w, "  %-24s %d\n", "Iterations:", o.Iterations)
	p.Fprintf(w, "  %-24s %d\n", "Components succeeded:", o.Succeeded)
	p.Fprintf(w, "  %-24s %d\n", "Components skipped:", o.Skipped)
	if o.Failures > 0 {
		p.Fprintf(w, "  %-24s %d\n", "Tolerated failures:", o.Failures)
	}
	if o.Err != nil {
		p.Fprintf(w, "  %-24s %v\n", "Error:", o.Err)
	}
}
