package membuf

import "testing"

func TestTwoPhase(t *testing.T) {
	var b Builder
	b.Reserve(4, 4)
	b.Reserve(3, 1)
	b.Reserve(8, 8)
	b.Commit()

	// 4 bytes at 0, 3 bytes at 4, 8 bytes aligned up to 8.
	if got, want := b.Len(), 16; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}

	s1 := b.Alloc(4, 4)
	s2 := b.Alloc(3, 1)
	s3 := b.Alloc(8, 8)

	if s1.Offset() != 0 {
		t.Errorf("first span offset = %d, want 0", s1.Offset())
	}
	if s2.Offset() != 4 {
		t.Errorf("second span offset = %d, want 4", s2.Offset())
	}
	if s3.Offset() != 8 {
		t.Errorf("third span offset = %d, want 8", s3.Offset())
	}
}

func TestCopyAndFixup(t *testing.T) {
	var b Builder
	b.Reserve(8, 1)
	b.ReserveString("vertex")
	b.Commit()

	table := b.Alloc(8, 1)
	name := b.CopyString("vertex")

	table.PutUint32(0, uint32(name.Offset()))
	table.PutUint32(4, uint32(name.Size()))

	if got := table.Uint32(0); got != 8 {
		t.Errorf("offset fixup = %d, want 8", got)
	}
	if got := table.Uint32(4); got != 7 {
		t.Errorf("size fixup = %d, want 7 (includes NUL)", got)
	}
	if got := string(name.Bytes()); got != "vertex\x00" {
		t.Errorf("name bytes = %q", got)
	}
}

func TestIsEmpty(t *testing.T) {
	var b Builder
	if !b.IsEmpty() {
		t.Error("fresh builder should be empty")
	}
	b.Reserve(1, 1)
	if b.IsEmpty() {
		t.Error("builder with a reservation should not be empty")
	}
}

func TestPhaseMisusePanics(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"alloc before commit", func() {
			var b Builder
			b.Reserve(4, 1)
			b.Alloc(4, 1)
		}},
		{"reserve after commit", func() {
			var b Builder
			b.Commit()
			b.Reserve(4, 1)
		}},
		{"double commit", func() {
			var b Builder
			b.Commit()
			b.Commit()
		}},
		{"overrun", func() {
			var b Builder
			b.Reserve(4, 1)
			b.Commit()
			b.Alloc(8, 1)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn()
		})
	}
}
