package genutil

import (
	"encoding/json"
	"testing"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced output", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"leading prose", `Here is the outline: {"chapters":[]} hope it helps`, `{"chapters":[]}`},
		{"array output", `noise [1,2,3] trailing`, `[1,2,3]`},
		{"no json at all", "just words", "just words"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSONObject(tt.input); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractJSONObjectRoundTrips(t *testing.T) {
	raw := "The plan:\n```json\n{\"chapters\":[{\"index\":0,\"title\":\"One\"}],\"characters\":[\"Ava\"]}\n```"
	var parsed struct {
		Chapters   []struct{ Title string } `json:"chapters"`
		Characters []string                 `json:"characters"`
	}
	if err := json.Unmarshal([]byte(ExtractJSONObject(raw)), &parsed); err != nil {
		t.Fatalf("unmarshal extracted: %v", err)
	}
	if len(parsed.Chapters) != 1 || parsed.Chapters[0].Title != "One" {
		t.Fatalf("parsed = %+v", parsed)
	}
}

func TestTruncateByRunes(t *testing.T) {
	tests := []struct {
		input string
		max   int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
		{"你好世界", 2, "你好"},
		{"hello", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncateByRunes(tt.input, tt.max); got != tt.want {
			t.Errorf("TruncateByRunes(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
		}
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"empty", "", 0},
		{"latin", "the quick brown fox", 4},
		{"punctuation", "hello, world! it's fine.", 5},
		{"cjk counts per rune", "你好世界", 4},
		{"mixed", "Chapter 1: 你好 world", 5},
		{"newlines", "one\ntwo\n\nthree", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountWords(tt.input); got != tt.want {
				t.Fatalf("CountWords(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
