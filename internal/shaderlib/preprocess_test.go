package shaderlib

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func includeMap(files map[string]string) IncludeFunc {
	return func(path string) (string, error) {
		src, ok := files[path]
		if !ok {
			return "", fmt.Errorf("no file %s", path)
		}
		return src, nil
	}
}

func TestPreprocessConditionals(t *testing.T) {
	src := strings.Join([]string{
		"a",
		"#ifdef FAST",
		"fast",
		"#else",
		"slow",
		"#endif",
		"#ifndef FAST",
		"not_fast",
		"#endif",
		"z",
	}, "\n")

	tests := []struct {
		name    string
		defines []string
		want    []string
		absent  []string
	}{
		{"defined", []string{"FAST"}, []string{"a", "fast", "z"}, []string{"slow", "not_fast"}},
		{"undefined", nil, []string{"a", "slow", "not_fast", "z"}, []string{"\nfast\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Preprocess(src, tt.defines, nil)
			if err != nil {
				t.Fatalf("Preprocess: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(out, a) {
					t.Errorf("output unexpectedly contains %q:\n%s", a, out)
				}
			}
		})
	}
}

func TestPreprocessNestedInactive(t *testing.T) {
	src := "#ifdef A\n#ifdef B\nboth\n#else\nonly_a\n#endif\n#endif\n"
	out, err := Preprocess(src, []string{"B"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "both") || strings.Contains(out, "only_a") {
		t.Errorf("inner branches of an inactive block leaked:\n%s", out)
	}
}

func TestPreprocessValueDefines(t *testing.T) {
	out, err := Preprocess("x", []string{"LAYER0_IN=16", "FLAG", "MLP_COUNT=3"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := "const LAYER0_IN = 16;\nconst MLP_COUNT = 3;\nx\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestPreprocessIncludeOnce(t *testing.T) {
	files := map[string]string{
		"common/a.wgsl": "#include \"common/b.wgsl\"\nA",
		"common/b.wgsl": "B",
	}
	src := "#include \"common/a.wgsl\"\n#include \"common/b.wgsl\"\nmain"
	out, err := Preprocess(src, nil, includeMap(files))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(out, "B\n"); n != 1 {
		t.Errorf("common/b.wgsl expanded %d times, want 1:\n%s", n, out)
	}
	if !strings.Contains(out, "A\n") || !strings.Contains(out, "main") {
		t.Errorf("missing content:\n%s", out)
	}
}

func TestPreprocessInactiveIncludeIgnored(t *testing.T) {
	out, err := Preprocess("#ifdef NOPE\n#include \"missing.wgsl\"\n#endif\nok", nil, includeMap(nil))
	if err != nil {
		t.Fatalf("inactive include should not be resolved: %v", err)
	}
	if !strings.Contains(out, "ok") {
		t.Errorf("output = %q", out)
	}
}

func TestPreprocessErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		defines  []string
		wantLine int
	}{
		{"stray else", "a\n#else\n", nil, 2},
		{"stray endif", "#endif", nil, 1},
		{"duplicate else", "#ifdef A\n#else\n#else\n#endif", nil, 3},
		{"unknown directive", "x\ny\n#pragma once", nil, 3},
		{"unterminated", "#ifdef A\n", nil, 0},
		{"missing include", "#include \"nope.wgsl\"", nil, 1},
		{"unquoted include", "#include nope.wgsl", nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Preprocess(tt.src, tt.defines, includeMap(nil))
			var se *SourceError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *SourceError", err)
			}
			if se.Line != tt.wantLine {
				t.Errorf("line = %d, want %d (%v)", se.Line, tt.wantLine, err)
			}
		})
	}
}

func TestParseDefinesRejectsBadNames(t *testing.T) {
	for _, d := range []string{"", "1ABC", "A B", "=3"} {
		if _, err := ParseDefines([]string{d}); err == nil {
			t.Errorf("ParseDefines(%q) succeeded, want error", d)
		}
	}
}
