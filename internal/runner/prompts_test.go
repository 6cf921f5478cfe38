package runner

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBuildPrompt(t *testing.T) {
	fixed := RunConfig{PromptMode: PromptFixed, Prompt: "Say hi"}
	if got := buildPrompt(fixed, 0, nil); got != "Say hi (Request #1)" {
		t.Fatalf("fixed prompt = %q", got)
	}
	if got := buildPrompt(fixed, 41, nil); got != "Say hi (Request #42)" {
		t.Fatalf("fixed prompt = %q", got)
	}

	random := RunConfig{PromptMode: PromptRandom, Prompt: "ignored"}
	got := buildPrompt(random, 2, func(n int) int { return n - 1 })
	want := cannedPrompts[len(cannedPrompts)-1] + " (Request #3)"
	if got != want {
		t.Fatalf("random prompt = %q, want %q", got, want)
	}
}

func TestTruncatePrompt(t *testing.T) {
	short := "short prompt"
	if got := truncatePrompt(short); got != short {
		t.Fatalf("short prompt changed: %q", got)
	}

	long := strings.Repeat("é", 80)
	got := truncatePrompt(long)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis: %q", got)
	}
	if n := utf8.RuneCountInString(strings.TrimSuffix(got, "...")); n != displayPromptLen {
		t.Fatalf("kept %d runes, want %d", n, displayPromptLen)
	}
}
