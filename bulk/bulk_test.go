package bulk

import (
	"errors"
	"testing"

	"github.com/rocketbitz/narpc-go/na/inproc"
)

func newClass(t *testing.T) *Class {
	t.Helper()
	fabric := inproc.NewFabric()
	naClass, err := fabric.NewClass("bulk")
	if err != nil {
		t.Fatalf("NewClass: %v", err)
	}
	class, err := Init(naClass, naClass.NewContext())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return class
}

func TestInitValidatesArguments(t *testing.T) {
	if _, err := Init(nil, nil); !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("expected ErrInvalidParam, got %v", err)
	}
}

func TestHandleLifecycle(t *testing.T) {
	class := newClass(t)

	buf := make([]byte, 128)
	h, err := class.NewHandle(buf)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	if h.ID() == 0 {
		t.Fatal("handle id is zero")
	}
	if h.Size() != 128 {
		t.Fatalf("handle size: got %d want 128", h.Size())
	}

	got, ok := class.Lookup(h.ID())
	if !ok || got != h {
		t.Fatalf("Lookup: got (%v, %v)", got, ok)
	}

	if err := h.Free(class); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if _, ok := class.Lookup(h.ID()); ok {
		t.Fatal("freed handle still resolvable")
	}
	if err := h.Free(class); err != nil {
		t.Fatalf("double Free: %v", err)
	}
}

func TestNilHandleID(t *testing.T) {
	var h *Handle
	if h.ID() != 0 {
		t.Fatal("nil handle id not zero")
	}
	if h.Size() != 0 {
		t.Fatal("nil handle size not zero")
	}
}

func TestFinalizeBlocksNewResources(t *testing.T) {
	class := newClass(t)

	ctx, err := class.NewContext()
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if err := ctx.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if err := class.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if _, err := class.NewContext(); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
	if _, err := class.NewHandle(make([]byte, 8)); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
}
