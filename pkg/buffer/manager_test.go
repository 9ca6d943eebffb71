package buffer

import "testing"

func TestSlabManagerRoundRobin(t *testing.T) {
	m := NewSlabManager()
	if err := m.Init(ManagerArgs{NumBuffers: 2, BufferSize: 16}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if m.Empty() {
		t.Fatal("freshly initialized slab manager should not be empty")
	}

	front := m.Front()
	if front.SharedBuffer().Length() != 16 {
		t.Fatalf("front length = %d, want 16", front.SharedBuffer().Length())
	}

	// Consuming less than half keeps the slot at front, but consuming
	// exactly the whole slot must retire it and rotate.
	m.Pop(16)
	second := m.Front()
	if second.SlabIndex() == front.SlabIndex() {
		t.Fatal("expected Pop to rotate to the next slab slot")
	}
}

func TestSlabManagerPartialPopReusesSlot(t *testing.T) {
	m := NewSlabManager()
	if err := m.Init(ManagerArgs{NumBuffers: 2, BufferSize: 16}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	front := m.Front()
	m.Pop(4) // remaining 12 of 16 is >= half: same slot should stay front
	again := m.Front()
	if again.SlabIndex() != front.SlabIndex() {
		t.Fatal("expected slab slot to persist after a small partial pop")
	}
}

func TestSlabManagerPushExternalReturnsSlot(t *testing.T) {
	m := NewSlabManager()
	if err := m.Init(ManagerArgs{NumBuffers: 1, BufferSize: 16}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	front := m.Front()
	m.Pop(16)
	if !m.Empty() {
		t.Fatal("expected manager to be empty after consuming its only slot")
	}
	front.Release()
	if m.Empty() {
		t.Fatal("expected the slot to return to the ready queue after release")
	}
}

func TestCircularManagerWindowSlides(t *testing.T) {
	m := NewCircularManager()
	if err := m.Init(ManagerArgs{NumBuffers: 4, BufferSize: 16}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	first := m.Front()
	if first.SharedBuffer().Length() != 16 {
		t.Fatalf("front window length = %d, want 16", first.SharedBuffer().Length())
	}
	startAddr := first.SharedBuffer().Address()

	m.Pop(16)
	second := m.Front()
	if second.SharedBuffer().Address() != startAddr+16 {
		t.Fatalf("front address after pop = %#x, want %#x", second.SharedBuffer().Address(), startAddr+16)
	}
}

func TestCircularManagerPartialPopReusesWindow(t *testing.T) {
	m := NewCircularManager()
	if err := m.Init(ManagerArgs{NumBuffers: 4, BufferSize: 16}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	first := m.Front()
	startAddr := first.SharedBuffer().Address()

	m.Pop(4) // accumulated 4 of 16 is under half: window must stay in place
	again := m.Front()
	if again.SharedBuffer().Address() != startAddr {
		t.Fatalf("front address after partial pop = %#x, want %#x (window should be reused in place)", again.SharedBuffer().Address(), startAddr)
	}

	m.Pop(4) // accumulated 8 of 16 reaches half (2*8 == 16, not <): the window retires
	again = m.Front()
	if again.SharedBuffer().Address() != startAddr+8 {
		t.Fatalf("front address after crossing the half threshold = %#x, want %#x (advance by the actual accumulated amount)", again.SharedBuffer().Address(), startAddr+8)
	}
}

func TestSlabManagerOutOfOrderReturnPreservesOrder(t *testing.T) {
	m := NewSlabManager()
	if err := m.Init(ManagerArgs{NumBuffers: 3, BufferSize: 8}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	held := make([]ManagedBuffer, 3)
	for i := 0; i < 3; i++ {
		held[i] = m.Front()
		m.Pop(8)
	}
	if !m.Empty() {
		t.Fatal("expected manager to be empty after three consumers took every slot")
	}

	// Three consumers finish and return their slots out of order.
	held[2].Release()
	held[0].Release()
	held[1].Release()

	for want := 0; want < 3; want++ {
		front := m.Front()
		if front.SlabIndex() != want {
			t.Fatalf("front slab index = %d, want %d (out-of-order returns must still surface in slot order)", front.SlabIndex(), want)
		}
		m.Pop(8)
	}
}

func TestManagerDefaults(t *testing.T) {
	m := NewSlabManager()
	if err := m.Init(ManagerArgs{}); err != nil {
		t.Fatalf("Init with zero-value args: %v", err)
	}
	if m.args.NumBuffers != 4 || m.args.BufferSize != 8192 {
		t.Fatalf("defaults not applied: %+v", m.args)
	}
}
