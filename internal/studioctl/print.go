package studioctl

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"image-studio/internal/domain/model"
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func describe(it Item) string {
	switch it.Status {
	case model.ItemStatusWaiting:
		s := "waiting"
		if it.RetryAfter != nil && *it.RetryAfter > 0 {
			s += fmt.Sprintf(" %ds", *it.RetryAfter)
		}
		if it.RetryCount != nil && *it.RetryCount > 0 {
			s += fmt.Sprintf(" (retry %d)", *it.RetryCount)
		}
		return s
	case model.ItemStatusGenerating:
		if it.RetryCount != nil && *it.RetryCount > 0 {
			return fmt.Sprintf("generating (retry %d)", *it.RetryCount)
		}
		return "generating"
	case model.ItemStatusFailed:
		s := "failed: " + it.Error
		if it.CanRetry {
			s += " [retryable]"
		}
		return s
	case model.ItemStatusCompleted:
		return fmt.Sprintf("completed %dx%d %s", it.Width, it.Height, it.ImageURL)
	}
	return string(it.Status)
}

func printProgress(w io.Writer, it Item) {
	fmt.Fprintf(w, "%s  %-32s %s\n", shortID(it.ID), it.ModelName, describe(it))
}

func printGroups(w io.Writer, groups []Group) error {
	if len(groups) == 0 {
		fmt.Fprintln(w, "gallery is empty")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "%s (%d)\n", g.Label, len(g.Items))
		for _, it := range g.Items {
			ts := ""
			if it.CreatedAt != nil {
				ts = it.CreatedAt.Local().Format("15:04")
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", it.ID, ts, it.ModelName, it.AspectRatio, truncate(it.Prompt, 60))
		}
	}
	return tw.Flush()
}

func printPending(w io.Writer, g Gallery) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	n := 0
	for _, it := range g.Items {
		if it.Status == model.ItemStatusCompleted {
			continue
		}
		n++
		fmt.Fprintf(tw, "%s\t%s\t%s\n", it.ID, it.ModelName, describe(it))
	}
	if n == 0 {
		fmt.Fprintln(tw, "nothing in progress")
	}
	return tw.Flush()
}

func printModels(w io.Writer, ms []Model) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROVIDER\tENABLED\tREADY\tCAPABILITIES")
	for _, m := range ms {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\n", m.ID, m.Provider, m.Enabled, m.Available, capsString(m.Capabilities))
	}
	return tw.Flush()
}

func capsString(c model.ModelCapabilities) string {
	var parts []string
	if c.SupportsAspectRatios {
		parts = append(parts, "aspect")
	}
	if c.SupportsResolution {
		parts = append(parts, "resolution")
	}
	if n := c.ReferenceLimit(); n > 0 {
		parts = append(parts, fmt.Sprintf("refs<=%d", n))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
