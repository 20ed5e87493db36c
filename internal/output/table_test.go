package output

import (
	"strings"
	"testing"
	"time"

	"github.com/blackwell-systems/modsync/internal/mods"
	"github.com/blackwell-systems/modsync/internal/store"
)

func TestRenderPackageTable(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	if got := RenderPackageTable(mods.NewCollections()); !strings.Contains(got, "No packages installed") {
		t.Errorf("empty table = %q", got)
	}

	cols := mods.NewCollections()
	cols.AddInactive(&mods.Package{ID: 3863, Name: "SkyUI", Version: "5.2", Author: "schlangster"})
	_ = cols.AddActive(&mods.Package{ID: 2400, Name: "Script Extender", Version: "2.2.6", Folder: "skse"})

	out := RenderPackageTable(cols)
	for _, want := range []string{"Inactive (1)", "Active (1)", "SkyUI", "5.2", "schlangster", "3863", "skse"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "SkyUI") > strings.Index(out, "Active (1)") {
		t.Errorf("inactive record rendered under the active section:\n%s", out)
	}
}

func TestRenderDownloads(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	out := RenderDownloads([]mods.Download{
		{FileName: "a.zip", Downloaded: 1258291, Total: 2726297},
		{FileName: "b.zip", Downloaded: 10, Total: 10, Saved: true},
		{FileName: "c.zip", Downloaded: 10, Total: 10, Attempts: 3},
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], " 46% a.zip 1.2 MB/2.6 MB") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "saved") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "metadata failed x3") {
		t.Errorf("line 2 = %q", lines[2])
	}

	if got := RenderDownloads(nil); got != "No downloads.\n" {
		t.Errorf("empty = %q", got)
	}
}

func TestRenderHistory(t *testing.T) {
	out := RenderHistory([]*store.DownloadRecord{
		{FileName: "SkyUI_5_2_SE-12604-5-2SE.7z", PackageID: 12604, FileID: 35407, SizeBytes: 2 * 1024 * 1024, CompletedAt: time.Now().Add(-2 * time.Hour)},
	})
	for _, want := range []string{"SkyUI_5_2_SE", "12604", "35407", "2.0 MB", "2 hours ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("history missing %q:\n%s", want, out)
		}
	}
	if got := RenderHistory(nil); !strings.Contains(got, "No completed downloads") {
		t.Errorf("empty = %q", got)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{512, "512 B"},
		{2048, "2 KB"},
		{1572864, "1.5 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.bytes); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestFormatRelativeTime(t *testing.T) {
	now := time.Now()
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Time{}, "never"},
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-1 * time.Minute), "1 minute ago"},
		{now.Add(-5 * time.Hour), "5 hours ago"},
		{now.Add(-3 * 24 * time.Hour), "3 days ago"},
		{now.Add(-400 * 24 * time.Hour), "1 year ago"},
	}
	for _, tt := range tests {
		if got := formatRelativeTime(tt.t); got != tt.want {
			t.Errorf("formatRelativeTime(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefghij", 6); got != "abc..." {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("abc", 6); got != "abc" {
		t.Errorf("truncate() = %q", got)
	}
}
