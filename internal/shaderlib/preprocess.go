package shaderlib

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// maxIncludeDepth bounds #include nesting.
const maxIncludeDepth = 16

// IncludeFunc resolves an #include path to WGSL source.
type IncludeFunc func(path string) (string, error)

// SourceError reports a pre-processing or reflection failure at a source line.
type SourceError struct {
	File string
	Line int
	Msg  string
}

func (e *SourceError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("shaderlib: %s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("shaderlib: %s: %s", e.File, e.Msg)
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseDefines splits "NAME" and "NAME=VALUE" defines into a map.
// A define without a value maps to the empty string.
func ParseDefines(defines []string) (map[string]string, error) {
	out := make(map[string]string, len(defines))
	for _, d := range defines {
		name, value, _ := strings.Cut(d, "=")
		name = strings.TrimSpace(name)
		if !identRe.MatchString(name) {
			return nil, fmt.Errorf("shaderlib: invalid define %q", d)
		}
		out[name] = strings.TrimSpace(value)
	}
	return out, nil
}

type condFrame struct {
	parentActive bool
	taken        bool
	inElse       bool
}

type preprocessor struct {
	defines  map[string]string
	include  IncludeFunc
	included map[string]bool
	out      strings.Builder
}

// Preprocess expands #include, #ifdef, #ifndef, #else, #endif and #define
// directives. Each included file is expanded once. Defines with a value are
// emitted as WGSL constants at the top of the output.
func Preprocess(src string, defines []string, include IncludeFunc) (string, error) {
	defs, err := ParseDefines(defines)
	if err != nil {
		return "", err
	}
	p := &preprocessor{defines: defs, include: include, included: map[string]bool{}}

	names := make([]string, 0, len(defs))
	for name, v := range defs {
		if v != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(&p.out, "const %s = %s;\n", name, defs[name])
	}

	if err := p.expand("<source>", src, 0); err != nil {
		return "", err
	}
	return p.out.String(), nil
}

func (p *preprocessor) expand(file, src string, depth int) error {
	if depth > maxIncludeDepth {
		return &SourceError{File: file, Msg: "#include nested too deeply"}
	}

	var stack []condFrame
	active := func() bool {
		if len(stack) == 0 {
			return true
		}
		top := stack[len(stack)-1]
		return top.parentActive && top.taken
	}

	for i, line := range strings.Split(src, "\n") {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if active() {
				p.out.WriteString(line)
				p.out.WriteByte('\n')
			}
			continue
		}

		directive, arg, _ := strings.Cut(trimmed[1:], " ")
		arg = strings.TrimSpace(arg)
		fail := func(format string, a ...any) error {
			return &SourceError{File: file, Line: lineNo, Msg: fmt.Sprintf(format, a...)}
		}

		switch directive {
		case "ifdef", "ifndef":
			if !identRe.MatchString(arg) {
				return fail("#%s needs a name", directive)
			}
			_, defined := p.defines[arg]
			stack = append(stack, condFrame{
				parentActive: active(),
				taken:        defined == (directive == "ifdef"),
			})
		case "else":
			if len(stack) == 0 {
				return fail("#else without #ifdef")
			}
			top := &stack[len(stack)-1]
			if top.inElse {
				return fail("duplicate #else")
			}
			top.inElse = true
			top.taken = !top.taken
		case "endif":
			if len(stack) == 0 {
				return fail("#endif without #ifdef")
			}
			stack = stack[:len(stack)-1]
		case "define":
			if !active() {
				continue
			}
			name, value, _ := strings.Cut(arg, " ")
			if !identRe.MatchString(name) {
				return fail("#define needs a name")
			}
			value = strings.TrimSpace(value)
			p.defines[name] = value
			if value != "" {
				fmt.Fprintf(&p.out, "const %s = %s;\n", name, value)
			}
		case "include":
			if !active() {
				continue
			}
			path := strings.Trim(arg, `"`)
			if path == "" || path == arg {
				return fail(`#include needs a quoted path`)
			}
			if p.included[path] {
				continue
			}
			p.included[path] = true
			if p.include == nil {
				return fail("#include %q: no include resolver", path)
			}
			inc, err := p.include(path)
			if err != nil {
				return fail("#include %q: %v", path, err)
			}
			if err := p.expand(path, inc, depth+1); err != nil {
				return err
			}
		default:
			return fail("unknown directive #%s", directive)
		}
	}

	if len(stack) != 0 {
		return &SourceError{File: file, Msg: "unterminated #ifdef"}
	}
	return nil
}
