package app

import (
	"strings"
	"testing"
)

func TestSplitQuestionsNumberedStyles(t *testing.T) {
	text := "B.Tech CSE Dec 2023 1. Define an operating system and list its functions. 2) Explain paging with a diagram. Q3. What is a deadlock? [5M]"
	questions := splitQuestions(text)
	if len(questions) != 3 {
		t.Fatalf("expected 3 questions, got %d: %+v", len(questions), questions)
	}
	if questions[0].Number != "1" || !strings.HasPrefix(questions[0].Text, "Define an operating system") {
		t.Fatalf("unexpected first question: %+v", questions[0])
	}
	if questions[1].Number != "2" {
		t.Fatalf("unexpected second question number: %+v", questions[1])
	}
	if questions[2].Number != "3" || questions[2].Marks != 5 {
		t.Fatalf("expected marks tag parsed: %+v", questions[2])
	}
	if strings.Contains(questions[2].Text, "[5M]") {
		t.Fatalf("marks tag should be stripped: %q", questions[2].Text)
	}
}

func TestSplitQuestionsDropsHeaderOnlyText(t *testing.T) {
	if got := splitQuestions("University of Examland Model Paper Instructions: answer all"); got != nil {
		t.Fatalf("expected nil for text without numbering, got %+v", got)
	}
}

func TestBuildDraftUnitsSkipsEmptyPages(t *testing.T) {
	pages := []string{
		"1. First question here. 2. Second question here.",
		"continuation text with no numbering at all",
		"1. Question on the last page.",
	}
	units := buildDraftUnits(pages)
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	if units[0].Title != "Unit 1 (draft)" {
		t.Fatalf("unexpected unit title %q", units[0].Title)
	}
	if len(units[0].Options) != 1 || len(units[0].Options[0].Questions) != 2 {
		t.Fatalf("unexpected first unit shape: %+v", units[0])
	}
}

func TestExtractHTMLPages(t *testing.T) {
	doc := `<html><head><style>p{color:red}</style></head><body>
	<p>1. State Ohm's law.</p>
	<p>2. Derive the lens formula.</p>
	<script>console.log("ignored")</script>
	</body></html>`
	pages, err := extractHTMLPages(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("extract html: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected single page, got %d", len(pages))
	}
	if strings.Contains(pages[0], "color:red") || strings.Contains(pages[0], "console.log") {
		t.Fatalf("style/script content leaked: %q", pages[0])
	}
	questions := splitQuestions(pages[0])
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions from html, got %+v", questions)
	}
}

func TestNormalizeTextCollapsesWhitespace(t *testing.T) {
	if got := normalizeText("  a\n\tb \x00 c  "); got != "a b c" {
		t.Fatalf("normalizeText = %q", got)
	}
}
