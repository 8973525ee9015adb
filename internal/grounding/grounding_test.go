package grounding_test

import (
	"strings"
	"testing"

	"github.com/avelops/voxnote/internal/grounding"
	"github.com/avelops/voxnote/pkg/store"
)

func TestBuild_NoSources(t *testing.T) {
	t.Parallel()

	if got := grounding.Build(nil); got != "No sources." {
		t.Errorf("Build(nil) = %q, want %q", got, "No sources.")
	}
}

func TestBuild_TitlesAndContent(t *testing.T) {
	t.Parallel()

	got := grounding.Build([]store.Source{
		{Title: "recipe.txt", Content: []byte("two eggs")},
		{Title: "scan.pdf", Content: []byte{0x25, 0x50}, ExtractedText: "invoice total 42"},
	})

	for _, want := range []string{
		"TITLE: recipe.txt",
		"CONTENT: two eggs...",
		"TITLE: scan.pdf",
		"CONTENT: invoice total 42...",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Build output missing %q:\n%s", want, got)
		}
	}
	if !strings.HasPrefix(got, "Available sources: ") {
		t.Errorf("Build output missing header:\n%s", got)
	}
}

func TestBuild_PreviewCapped(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", grounding.PreviewLimit+500)
	got := grounding.Build([]store.Source{{Title: "big", Content: []byte(long)}})

	if strings.Count(got, "x") != grounding.PreviewLimit {
		t.Errorf("preview length = %d, want %d", strings.Count(got, "x"), grounding.PreviewLimit)
	}
}
