package shaderlib

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gogpu/tsnc/gpucore"
)

// Binding is one resource declaration of a WGSL module.
type Binding struct {
	Name    string
	Group   uint32
	Binding uint32
	Type    gpucore.BindingType

	// WGSLType is the declared type, e.g. "array<u32>" or "texture_2d<u32>".
	WGSLType string
}

// TexelType returns the sampled type of a texture binding ("f32", "u32",
// "i32"), or "" for other bindings.
func (b Binding) TexelType() string {
	if b.Type != gpucore.BindingTypeSampledTexture {
		return ""
	}
	_, rest, ok := strings.Cut(b.WGSLType, "<")
	if !ok {
		return ""
	}
	return strings.TrimSpace(strings.TrimSuffix(rest, ">"))
}

// EntryPoint is a @compute function.
type EntryPoint struct {
	Name          string
	WorkgroupSize [3]uint32
}

// Module is the reflected interface of a pre-processed WGSL source.
type Module struct {
	Bindings []Binding
	Entries  []EntryPoint
}

// Binding returns the binding declared with name.
func (m *Module) Binding(name string) (Binding, bool) {
	for _, b := range m.Bindings {
		if b.Name == name {
			return b, true
		}
	}
	return Binding{}, false
}

// Entry returns the entry point called name.
func (m *Module) Entry(name string) (EntryPoint, bool) {
	for _, e := range m.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return EntryPoint{}, false
}

var (
	lineCommentRe  = regexp.MustCompile(`//[^\n]*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	bindingRe      = regexp.MustCompile(`@group\(\s*(\d+)\s*\)\s*@binding\(\s*(\d+)\s*\)\s*var(?:<\s*(\w+)\s*(?:,\s*(\w+)\s*)?>)?\s+(\w+)\s*:\s*([^;]+);`)
	fnRe           = regexp.MustCompile(`((?:@\w+(?:\([^)]*\))?\s*)+)fn\s+(\w+)\s*\(`)
	workgroupRe    = regexp.MustCompile(`@workgroup_size\(([^)]*)\)`)
	constRe        = regexp.MustCompile(`(?m)^\s*const\s+(\w+)\s*(?::\s*\w+\s*)?=\s*([0-9][0-9a-fA-FxX]*)[uUiI]?\s*;`)
)

// Reflect extracts resource bindings and compute entry points from src.
func Reflect(src string) (*Module, error) {
	src = blockCommentRe.ReplaceAllString(src, "")
	src = lineCommentRe.ReplaceAllString(src, "")

	consts := map[string]uint32{}
	for _, m := range constRe.FindAllStringSubmatch(src, -1) {
		if v, err := strconv.ParseUint(m[2], 0, 32); err == nil {
			consts[m[1]] = uint32(v)
		}
	}

	mod := &Module{}
	seen := map[string]bool{}
	slots := map[[2]uint32]string{}
	for _, m := range bindingRe.FindAllStringSubmatch(src, -1) {
		group, _ := strconv.ParseUint(m[1], 10, 32)
		binding, _ := strconv.ParseUint(m[2], 10, 32)
		b := Binding{
			Name:     m[5],
			Group:    uint32(group),
			Binding:  uint32(binding),
			WGSLType: strings.TrimSpace(m[6]),
		}
		t, err := bindingType(m[3], m[4], b.WGSLType)
		if err != nil {
			return nil, fmt.Errorf("shaderlib: binding %s: %w", b.Name, err)
		}
		b.Type = t

		if seen[b.Name] {
			return nil, fmt.Errorf("shaderlib: binding %s declared twice", b.Name)
		}
		key := [2]uint32{b.Group, b.Binding}
		if other, dup := slots[key]; dup {
			return nil, fmt.Errorf("shaderlib: @group(%d) @binding(%d) used by %s and %s", b.Group, b.Binding, other, b.Name)
		}
		seen[b.Name] = true
		slots[key] = b.Name
		mod.Bindings = append(mod.Bindings, b)
	}

	for _, m := range fnRe.FindAllStringSubmatch(src, -1) {
		attrs := m[1]
		if !strings.Contains(attrs, "@compute") {
			continue
		}
		wg := workgroupRe.FindStringSubmatch(attrs)
		if wg == nil {
			return nil, fmt.Errorf("shaderlib: entry %s has no @workgroup_size", m[2])
		}
		size, err := workgroupSize(wg[1], consts)
		if err != nil {
			return nil, fmt.Errorf("shaderlib: entry %s: %w", m[2], err)
		}
		mod.Entries = append(mod.Entries, EntryPoint{Name: m[2], WorkgroupSize: size})
	}
	return mod, nil
}

func bindingType(space, access, wgslType string) (gpucore.BindingType, error) {
	switch space {
	case "uniform":
		return gpucore.BindingTypeUniformBuffer, nil
	case "storage":
		switch access {
		case "", "read":
			return gpucore.BindingTypeReadOnlyStorageBuffer, nil
		case "read_write":
			return gpucore.BindingTypeStorageBuffer, nil
		default:
			return 0, fmt.Errorf("unsupported access mode %q", access)
		}
	case "":
		switch {
		case strings.HasPrefix(wgslType, "sampler"):
			return gpucore.BindingTypeSampler, nil
		case strings.HasPrefix(wgslType, "texture_storage_"):
			return gpucore.BindingTypeStorageTexture, nil
		case strings.HasPrefix(wgslType, "texture_"):
			return gpucore.BindingTypeSampledTexture, nil
		}
		return 0, fmt.Errorf("unsupported handle type %q", wgslType)
	default:
		return 0, fmt.Errorf("unsupported address space %q", space)
	}
}

func workgroupSize(args string, consts map[string]uint32) ([3]uint32, error) {
	size := [3]uint32{1, 1, 1}
	parts := strings.Split(args, ",")
	if len(parts) > 3 {
		return size, fmt.Errorf("workgroup size has %d dimensions", len(parts))
	}
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if v, ok := consts[p]; ok {
			size[i] = v
			continue
		}
		v, err := strconv.ParseUint(strings.TrimRight(p, "uUiI"), 0, 32)
		if err != nil {
			return size, fmt.Errorf("cannot resolve workgroup size %q", p)
		}
		size[i] = uint32(v)
	}
	if size[0] == 0 || size[1] == 0 || size[2] == 0 {
		return size, fmt.Errorf("workgroup size must be non-zero")
	}
	return size, nil
}
