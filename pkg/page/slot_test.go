package page

import "testing"

func TestSlotPackedFields(t *testing.T) {
	var s Slot
	s.SetRecordOffset(1234)
	s.SetOverflow(true)
	s.SetKeySize(789)
	s.SetIsBucket(false)
	s.SetLeftChild(Id(99))

	if got := s.RecordOffset(); got != 1234 {
		t.Fatalf("RecordOffset = %d, want 1234", got)
	}
	if !s.IsOverflow() {
		t.Fatal("IsOverflow = false, want true")
	}
	if got := s.KeySize(); got != 789 {
		t.Fatalf("KeySize = %d, want 789", got)
	}
	if s.IsBucket() {
		t.Fatal("IsBucket = true, want false")
	}
	if got := s.LeftChild(); got != Id(99) {
		t.Fatalf("LeftChild = %d, want 99", got)
	}
}

func TestSlotFlagsAreIndependent(t *testing.T) {
	var s Slot
	s.SetIsBucket(true)
	s.SetKeySize(5)
	if !s.IsBucket() || s.KeySize() != 5 {
		t.Fatalf("bucket flag corrupted key size or vice versa: bucket=%v size=%d", s.IsBucket(), s.KeySize())
	}

	s.SetOverflow(true)
	s.SetRecordOffset(10)
	if !s.IsOverflow() || s.RecordOffset() != 10 {
		t.Fatalf("overflow flag corrupted record offset or vice versa: overflow=%v offset=%d", s.IsOverflow(), s.RecordOffset())
	}
}

func TestSlotEncodeDecodeRoundTrip(t *testing.T) {
	var s Slot
	s.SetRecordOffset(4000)
	s.SetKeySize(1500)
	s.SetOverflow(true)
	s.SetIsBucket(true)
	s.SetLeftChild(Id(0xabcd1234))

	buf := make([]byte, SlotSize)
	s.Encode(buf)
	got := DecodeSlot(buf)

	if got != s {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, s)
	}
}
