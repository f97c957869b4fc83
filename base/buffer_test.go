package base

import (
	"bytes"
	"testing"
)

func TestRingBufferPushConcatenation(t *testing.T) {
	r := NewRingBuffer(4)
	for n := 1; n <= 32; n++ {
		head, tail := r.Push(n)
		total := len(head) + len(tail)
		if total != n {
			t.Fatalf("push(%d): head+tail = %d, want %d", n, total, n)
		}
		for i := range head {
			head[i] = byte(n)
		}
		for i := range tail {
			tail[i] = byte(n)
		}
	}
}

func TestRingBufferWriteReadOrder(t *testing.T) {
	r := NewRingBuffer(8)
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	for _, b := range want {
		r.Write([]byte{b})
	}
	got := make([]byte, len(want))
	r.Read(got)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRingBufferPushContNormalizesWrap(t *testing.T) {
	r := NewRingBuffer(8)
	r.Write([]byte{1, 2, 3, 4, 5, 6})
	r.Pop(4)
	// used=2, first=4; pushing 4 contiguous bytes would wrap without
	// normalization, so PushCont must compact first to 0.
	buf := r.PushCont(4)
	if len(buf) != 4 {
		t.Fatalf("len(buf) = %d, want 4", len(buf))
	}
	if r.At(0) != 5 || r.At(1) != 6 {
		t.Fatalf("existing data not preserved after compaction: %v", []byte{r.At(0), r.At(1)})
	}
}

func TestRingBufferPushFreeSequence(t *testing.T) {
	r := NewRingBuffer(4)
	first := r.PushFree()
	if len(first) != 4 {
		t.Fatalf("first push_free len = %d, want 4", len(first))
	}
	r.Unpush(len(first))

	r.Write([]byte{1, 2})
	chunk := r.PushFree()
	if len(chunk) != 2 {
		t.Fatalf("post-write push_free len = %d, want 2", len(chunk))
	}
}

func TestRingBufferLittleEndianRoundTrip(t *testing.T) {
	r := NewRingBuffer(4)
	r.WriteI8(0x01)
	r.WriteU8(0x81)
	r.WriteI16(0x0203)
	r.WriteI16(int16(int32(0x8283) - 1<<16)) // force the literal bit pattern 0x8283
	r.WriteI32(0x04050607)
	r.WriteU32(0x84858687)

	if got, want := r.ReadU32(), uint32(0x02038101); got != want {
		t.Fatalf("ReadU32() = %#x, want %#x", got, want)
	}
	if got, want := r.ReadI32(), int32(0x06078283); got != want {
		t.Fatalf("ReadI32() = %#x, want %#x", got, want)
	}
	if got, want := r.ReadU16(), uint16(0x0405); got != want {
		t.Fatalf("ReadU16() = %#x, want %#x", got, want)
	}
	if got, want := r.ReadI16(), int16(int32(0x8687)-1<<16); got != want {
		t.Fatalf("ReadI16() = %#x, want %#x", got, want)
	}
	if got, want := r.ReadU8(), uint8(0x85); got != want {
		t.Fatalf("ReadU8() = %#x, want %#x", got, want)
	}
	if got, want := r.ReadI8(), int8(int32(0x84)-1<<8); got != want {
		t.Fatalf("ReadI8() = %#x, want %#x", got, want)
	}
}

func TestRegistryGenerationRejectsStaleHandle(t *testing.T) {
	reg := NewRegistry[int]()
	h := reg.Add(42)
	reg.Remove(h)
	h2 := reg.Add(43)

	if _, ok := reg.Get(h); ok {
		t.Fatalf("stale handle should not resolve")
	}
	if v, ok := reg.Get(h2); !ok || v != 43 {
		t.Fatalf("fresh handle should resolve to 43, got %v, %v", v, ok)
	}
}
