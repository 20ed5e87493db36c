// Package output provides terminal output utilities for modsync.
//
// This package includes:
//   - Table rendering for package collections, live downloads and download history
//   - A byte progress bar and a spinner for long-running operations
//   - Human-readable formatting for sizes and relative times
//
// Progress indicators are safe for use from multiple goroutines.
package output

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/modsync/internal/mods"
	"github.com/blackwell-systems/modsync/internal/store"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// colorize wraps text in the given ANSI color code if color is enabled,
// otherwise returns the plain text.
func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// RenderPackageTable renders the inactive and active collections in their
// stored order.
func RenderPackageTable(cols *mods.Collections) string {
	if cols == nil || (len(cols.Inactive) == 0 && len(cols.Active) == 0) {
		return "No packages installed.\n"
	}

	var sb strings.Builder
	writeSection(&sb, "Inactive", colorGray, cols.Inactive)
	sb.WriteString("\n")
	writeSection(&sb, "Active", colorGreen, cols.Active)
	return sb.String()
}

func writeSection(sb *strings.Builder, title, color string, pkgs []*mods.Package) {
	sb.WriteString(colorize(color, fmt.Sprintf("%s (%d)", title, len(pkgs))))
	sb.WriteString("\n")
	if len(pkgs) == 0 {
		sb.WriteString("  none\n")
		return
	}

	sb.WriteString(fmt.Sprintf("%-8s %-30s %-10s %-16s %s\n",
		"ID", "Name", "Version", "Author", "Folder"))
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")

	for _, p := range pkgs {
		folder := p.Folder
		if folder == "" {
			folder = "-"
		}
		sb.WriteString(fmt.Sprintf("%-8d %-30s %-10s %-16s %s\n",
			p.ID,
			truncate(p.Name, 30),
			truncate(p.Version, 10),
			truncate(p.Author, 16),
			folder))
	}
}

// RenderDownloads renders the registry snapshot, one bar per file.
// Example: [=====>    ]  45% FileName.zip 1.2 MB/2.6 MB
func RenderDownloads(downloads []mods.Download) string {
	if len(downloads) == 0 {
		return "No downloads.\n"
	}

	var sb strings.Builder
	for _, d := range downloads {
		line := fmt.Sprintf("%s %s %s/%s",
			FormatBar(d.Downloaded, d.Total, 20),
			d.FileName,
			formatSize(d.Downloaded),
			formatSize(d.Total))
		switch {
		case d.Saved:
			line += " " + colorize(colorGreen, "saved")
		case d.Complete() && d.Attempts > 0:
			line += " " + colorize(colorYellow, "metadata failed x"+strconv.Itoa(d.Attempts))
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderHistory renders completed downloads, newest first as given.
func RenderHistory(records []*store.DownloadRecord) string {
	if len(records) == 0 {
		return "No completed downloads.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-40s %-8s %-10s %-9s %s\n",
		"File", "ID", "File ID", "Size", "Completed"))
	sb.WriteString(strings.Repeat("─", 85))
	sb.WriteString("\n")

	for _, r := range records {
		sb.WriteString(fmt.Sprintf("%-40s %-8d %-10d %-9s %s\n",
			truncate(r.FileName, 40),
			r.PackageID,
			r.FileID,
			formatSize(r.SizeBytes),
			formatRelativeTime(r.CompletedAt)))
	}
	return sb.String()
}

// formatSize converts bytes to human-readable size (GB, MB, KB).
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.0f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 days ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 30*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	case diff < 365*24*time.Hour:
		return plural(int(diff.Hours()/24/30), "month")
	default:
		return plural(int(diff.Hours()/24/365), "year")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
