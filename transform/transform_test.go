package transform

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestString_Pipeline(t *testing.T) {
	opts := DefaultOptions()
	tests := []struct {
		name string
		in   string
		want any
	}{
		{"trim to int", "  5 ", 5},
		{"negative float", "-3.25", -3.25},
		{"collapse whitespace", "a \n\t b", "a b"},
		{"strip tags", "<p> Hello <b>world</b> </p>", "Hello world"},
		{"inter-tag whitespace", "x  <i></i>  y", "x y"},
		{"iso date", "2024-01-02", "2024-01-02"},
		{"fuzzy date", "January 2, 2024", "2024-01-02"},
		{"word is not a date", "May", "May"},
		{"empty removed", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, String(tt.in, opts))
		})
	}
}

func TestString_OptionsOff(t *testing.T) {
	assert.Equal(t, "  5 ", String("  5 ", Options{}))
	assert.Equal(t, "5", String(" 5 ", Options{Trim: true}))
	assert.Equal(t, 5, String("5", Options{ConvertNumbers: true}))
}

func TestString_DateFormat(t *testing.T) {
	opts := DefaultOptions()
	opts.DateFormat = "02/01/2006"
	assert.Equal(t, "02/01/2024", String("2024-01-02", opts))
}

func TestString_ExtractDomain(t *testing.T) {
	opts := DefaultOptions()
	opts.ExtractDomain = true
	assert.Equal(t, "shop.example.com", String("https://shop.example.com/p/1?x=2", opts))
	assert.Equal(t, "not a url", String("not a url", opts))
}

func TestTransform_RemoveEmptyAtEveryLevel(t *testing.T) {
	in := map[string]any{
		"title": "  Widget ",
		"empty": "",
		"nil":   nil,
		"tags":  []any{"", " a ", nil},
		"none":  []any{"  ", nil},
		"nested": map[string]any{
			"price": "19.99",
			"blank": "   ",
		},
		"  ":    "dropped key",
		"flag":  true,
		"count": 3,
	}
	want := map[string]any{
		"title":  "Widget",
		"tags":   []any{"a"},
		"nested": map[string]any{"price": 19.99},
		"flag":   true,
		"count":  3,
	}
	got := Transform(in, DefaultOptions())
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Transform mismatch (-want +got):\n%s", diff)
	}
}

func TestTransform_KeepsEmptyWhenDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.RemoveEmpty = false
	got := Transform(map[string]any{"a": "", "b": []any{}}, opts).(map[string]any)
	assert.Contains(t, got, "a")
	assert.Contains(t, got, "b")
}

func TestTransform_Flatten(t *testing.T) {
	opts := DefaultOptions()
	opts.Flatten = true
	opts.FlattenSeparator = "_"
	in := map[string]any{
		"meta":  map[string]any{"title": "T", "lang": "en"},
		"price": "10",
	}
	want := map[string]any{"meta_title": "T", "meta_lang": "en", "price": 10}
	if diff := cmp.Diff(want, Transform(in, opts)); diff != "" {
		t.Errorf("flatten mismatch (-want +got):\n%s", diff)
	}
}

func TestTransform_Idempotent(t *testing.T) {
	inputs := []any{
		"  5 ",
		"2024-01-02",
		"<div>\n  <span> a </span>  b\n</div>",
		map[string]any{
			"a": []any{" x ", "", "<b>3</b>"},
			"b": map[string]any{"c": " 2024-03-05T10:00:00Z "},
			"d": "March 5, 2024",
		},
	}
	opts := DefaultOptions()
	for _, in := range inputs {
		once := Transform(in, opts)
		twice := Transform(once, opts)
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Errorf("not idempotent for %#v (-once +twice):\n%s", in, diff)
		}
	}
}

func TestTransform_StringSlice(t *testing.T) {
	got := Transform([]string{" a ", ""}, DefaultOptions())
	assert.Equal(t, []any{"a"}, got)
}

func TestRecord_EmptyResult(t *testing.T) {
	assert.Equal(t, map[string]any{}, Record(map[string]any{"x": ""}, DefaultOptions()))
}
