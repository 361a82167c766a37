package backend

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/tsnc/gpucore"
)

// namedDevice implements only Name; the registry never calls anything else.
type namedDevice struct {
	gpucore.Device
	name string
}

func (d namedDevice) Name() string { return d.name }

// isolate swaps in an empty registry for the duration of a test.
func isolate(t *testing.T) {
	t.Helper()
	registryMu.Lock()
	saved := backends
	backends = make(map[string]Factory)
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		backends = saved
		registryMu.Unlock()
	})
}

func factoryFor(name string) Factory {
	return func() (gpucore.Device, error) { return namedDevice{name: name}, nil }
}

func TestRegisterAndOpen(t *testing.T) {
	isolate(t)
	Register("b", factoryFor("b"))
	Register("a", factoryFor("a"))

	if got := Available(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Available() = %v, want [a b]", got)
	}
	if !IsRegistered("a") || IsRegistered("c") {
		t.Error("IsRegistered reports wrong membership")
	}
	dev, err := Open("b")
	if err != nil {
		t.Fatalf("Open(b): %v", err)
	}
	if dev.Name() != "b" {
		t.Errorf("Open(b).Name() = %q", dev.Name())
	}
	if _, err := Open("c"); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Open(c) error = %v, want ErrBackendNotAvailable", err)
	}

	Unregister("a")
	if IsRegistered("a") {
		t.Error("a still registered after Unregister")
	}
}

func TestDefaultPriority(t *testing.T) {
	tests := []struct {
		name       string
		registered []string
		failing    []string
		want       string
	}{
		{"wgpu first", []string{BackendSoftware, BackendWGPU, "zzz"}, nil, BackendWGPU},
		{"fallback to software", []string{BackendSoftware, BackendWGPU}, []string{BackendWGPU}, BackendSoftware},
		{"unknown backends last", []string{"beta", "alpha"}, nil, "alpha"},
		{"software only", []string{BackendSoftware}, nil, BackendSoftware},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for _, name := range tt.registered {
				f := factoryFor(name)
				if slices.Contains(tt.failing, name) {
					f = func() (gpucore.Device, error) { return nil, errors.New("no adapter") }
				}
				Register(name, f)
			}
			dev, err := Default()
			if err != nil {
				t.Fatalf("Default(): %v", err)
			}
			if dev.Name() != tt.want {
				t.Errorf("Default().Name() = %q, want %q", dev.Name(), tt.want)
			}
		})
	}
}

func TestDefaultNoBackends(t *testing.T) {
	isolate(t)
	if _, err := Default(); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Default() error = %v, want ErrBackendNotAvailable", err)
	}

	Register(BackendWGPU, func() (gpucore.Device, error) { return nil, errors.New("no adapter") })
	_, err := Default()
	if !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Default() error = %v, want ErrBackendNotAvailable", err)
	}
}
