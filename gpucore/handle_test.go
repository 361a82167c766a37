package gpucore

import (
	"errors"
	"testing"
)

func TestHandleZeroIsInvalid(t *testing.T) {
	var b Buffer
	if b.IsValid() {
		t.Fatal("zero Buffer handle should be invalid")
	}
	if got := b.String(); got != "Buffer(nil)" {
		t.Errorf("String() = %q, want %q", got, "Buffer(nil)")
	}
}

func TestArenaInsertGetRemove(t *testing.T) {
	var a Arena[BufferKind, string]

	h1 := a.Insert("one")
	h2 := a.Insert("two")
	if !h1.IsValid() || !h2.IsValid() {
		t.Fatal("inserted handles should be valid")
	}
	if a.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", a.Len())
	}

	if v, ok := a.Get(h2); !ok || v != "two" {
		t.Errorf("Get(h2) = %q, %v", v, ok)
	}

	if v, ok := a.Remove(h1); !ok || v != "one" {
		t.Fatalf("Remove(h1) = %q, %v", v, ok)
	}
	if _, ok := a.Get(h1); ok {
		t.Error("Get on removed handle should fail")
	}
	if _, ok := a.Remove(h1); ok {
		t.Error("double Remove should fail")
	}

	// The slot is recycled with a new generation; the old handle stays stale.
	h3 := a.Insert("three")
	if h3.Index() != h1.Index() {
		t.Errorf("slot not recycled: h3 index %d, h1 index %d", h3.Index(), h1.Index())
	}
	if h3.Generation() == h1.Generation() {
		t.Error("recycled slot should bump generation")
	}
	if _, ok := a.Get(h1); ok {
		t.Error("stale handle resolved after slot reuse")
	}
	if v, ok := a.Get(h3); !ok || v != "three" {
		t.Errorf("Get(h3) = %q, %v", v, ok)
	}
}

func TestArenaAll(t *testing.T) {
	var a Arena[KernelKind, int]
	hs := []Kernel{a.Insert(10), a.Insert(20), a.Insert(30)}
	a.Remove(hs[1])

	sum := 0
	n := 0
	for h, v := range a.All() {
		if !h.IsValid() {
			t.Error("All yielded invalid handle")
		}
		sum += v
		n++
	}
	if n != 2 || sum != 40 {
		t.Errorf("All visited %d values summing to %d, want 2 and 40", n, sum)
	}
}

func TestArenaOutOfRangeHandle(t *testing.T) {
	var a Arena[TextureKind, int]
	a.Insert(1)

	var other Arena[TextureKind, int]
	for range 5 {
		other.Insert(0)
	}
	h := other.Insert(0)

	if _, ok := a.Get(h); ok {
		t.Error("handle from a larger arena should not resolve")
	}
}

func TestCompileResult(t *testing.T) {
	var a Arena[KernelKind, struct{}]
	k := a.Insert(struct{}{})

	ok := Compiled(k)
	if got, valid := ok.Kernel(); !valid || got != k {
		t.Errorf("Kernel() = %v, %v", got, valid)
	}
	if ok.Err() != nil {
		t.Errorf("Err() = %v, want nil", ok.Err())
	}

	bad := Failed("reset:main", Diagnostic{Line: 3, Message: "unexpected token"})
	if bad.OK() {
		t.Fatal("Failed result reported OK")
	}
	if _, valid := bad.Kernel(); valid {
		t.Error("Failed result returned a kernel")
	}
	if !errors.Is(bad.Err(), ErrCompileFailed) {
		t.Errorf("Err() = %v, want ErrCompileFailed", bad.Err())
	}
	var ce *CompileError
	if !errors.As(bad.Err(), &ce) || ce.Label != "reset:main" {
		t.Errorf("errors.As CompileError failed: %v", bad.Err())
	}
	if got := bad.Diagnostics().String(); got != "line 3: unexpected token" {
		t.Errorf("Diagnostics() = %q", got)
	}

	var zero CompileResult
	if zero.OK() || zero.Err() == nil {
		t.Error("zero CompileResult must not be Ok")
	}
}

func TestDispatchArgs(t *testing.T) {
	a := DispatchArgs{X: 7, Y: 2, Z: 1}
	if a.Size() != 12 {
		t.Errorf("Size() = %d, want 12", a.Size())
	}
	if a.Groups() != 14 {
		t.Errorf("Groups() = %d, want 14", a.Groups())
	}
	if a.Threads(32) != 448 {
		t.Errorf("Threads(32) = %d, want 448", a.Threads(32))
	}
}

func TestTextureFormatBytes(t *testing.T) {
	tests := []struct {
		f    TextureFormat
		want int
	}{
		{TextureFormatRGBA8Unorm, 4},
		{TextureFormatRG32Uint, 8},
		{TextureFormatR32Float, 4},
		{TextureFormatRGBA32Float, 16},
		{TextureFormat(99), 0},
	}
	for _, tt := range tests {
		t.Run(tt.f.String(), func(t *testing.T) {
			if got := tt.f.BytesPerTexel(); got != tt.want {
				t.Errorf("BytesPerTexel() = %d, want %d", got, tt.want)
			}
		})
	}
}
