package framemap

import (
	"errors"
	"testing"
)

func TestAcquireFillsInOrder(t *testing.T) {
	m := New(4, nil)

	for i := 0; i < 4; i++ {
		id, err := m.Acquire(1, false)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if id != i {
			t.Fatalf("expected frame %d, got %d", i, id)
		}
	}

	if _, err := m.Acquire(1, false); !errors.Is(err, ErrOutOfFrames) {
		t.Fatalf("expected ErrOutOfFrames, got %v", err)
	}
}

func TestFlushReleasesOnlyOwnedFrames(t *testing.T) {
	m := New(4, nil)

	a, _ := m.Acquire(1, false)
	b, _ := m.Acquire(2, false)
	c, _ := m.Acquire(1, true)

	m.Bytes(a)[0] = 0x42
	m.Flush(1)

	if _, _, ok := m.Owner(a); ok {
		t.Fatal("frame owned by flushed pid should be free")
	}
	if _, _, ok := m.Owner(c); ok {
		t.Fatal("pinned frame owned by flushed pid should still be flushed")
	}
	if _, _, ok := m.Owner(b); !ok {
		t.Fatal("frame owned by a different pid should survive flush")
	}
	if m.Bytes(a)[0] != 0 {
		t.Fatal("flushed frame contents should be zeroed")
	}
}

func TestOwnerReportsPinState(t *testing.T) {
	m := New(2, nil)
	id, err := m.Acquire(7, true)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	pid, pinned, ok := m.Owner(id)
	if !ok || pid != 7 || !pinned {
		t.Fatalf("Owner(%d) = (%d, %v, %v)", id, pid, pinned, ok)
	}
}
