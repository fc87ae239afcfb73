package chapters

import (
	"strings"
	"testing"
)

func TestRenderParseRoundTrip(t *testing.T) {
	cases := []Path{
		{Base: "Author/Book/book.m4b", Name: "Chapter One", StartMs: 0, EndMs: 60000, Ext: ".m4b", Collapsed: true},
		{Base: "Author/Book/book.m4b", Name: "Chapter Two", StartMs: 60000, EndMs: 125000, Ext: ".m4b", Collapsed: false},
		{Base: "book.m4b", Name: "Intro", StartMs: 0, EndMs: 1000, Ext: ".m4b", Collapsed: true},
	}
	for _, c := range cases {
		rendered := c.Render()
		got, err := Parse(rendered)
		if err != nil {
			t.Fatalf("Parse(%q): %v", rendered, err)
		}
		if got != c {
			t.Fatalf("round trip mismatch: got %+v want %+v (rendered=%q)", got, c, rendered)
		}
	}
}

func TestParseRejectsPlainPath(t *testing.T) {
	if _, err := Parse("Author/Book/01.mp3"); err == nil {
		t.Fatal("expected error for non-virtual path")
	}
}

func TestIsReserved(t *testing.T) {
	if !IsReserved("dir/a$$b") {
		t.Fatal("expected sigil to be detected")
	}
	if IsReserved("dir/a-b") {
		t.Fatal("unexpected false positive")
	}
}

func TestLoadCSV(t *testing.T) {
	input := "title,start,end\nIntro,0,00:01:00.000\nChapter 1,60,125.5\n"
	table, rejected := LoadCSV(strings.NewReader(input))
	if len(rejected) != 0 {
		t.Fatalf("unexpected rejections: %v", rejected)
	}
	if len(table) != 2 {
		t.Fatalf("want 2 chapters, got %d", len(table))
	}
	if table[0].StartMs != 0 || table[0].EndMs != 60000 {
		t.Fatalf("bad row 0: %+v", table[0])
	}
	if table[1].StartMs != 60000 || table[1].EndMs != 125500 {
		t.Fatalf("bad row 1: %+v", table[1])
	}
}

func TestLoadCSVRejectsNonMonotonic(t *testing.T) {
	input := "title,start,end\nA,10,5\nB,5,20\n"
	table, rejected := LoadCSV(strings.NewReader(input))
	if len(rejected) == 0 {
		t.Fatal("expected at least one rejection")
	}
	if len(table) != 1 {
		t.Fatalf("want 1 surviving chapter, got %d", len(table))
	}
}

func TestSynthesizeAndClamp(t *testing.T) {
	table := Synthesize(250000, 100000)
	if len(table) != 3 {
		t.Fatalf("want 3 synthesized chapters, got %d", len(table))
	}
	if table[2].EndMs != 250000 {
		t.Fatalf("last chapter should clamp to duration, got %d", table[2].EndMs)
	}

	clamped := Clamp(Table{{Title: "x", StartMs: 0, EndMs: 300000}}, 250000)
	if clamped[0].EndMs != 250000 {
		t.Fatalf("Clamp did not cap end, got %d", clamped[0].EndMs)
	}
}
