package syncbuf

import (
	"bytes"
	"testing"
)

func TestBufferAppendConsume(t *testing.T) {
	t.Parallel()

	var b Buffer
	b.Append([]byte{1, 2, 3})
	b.Append(nil)
	b.Append([]byte{4, 5})

	if b.Len() != 5 {
		t.Fatalf("Len = %d, want 5", b.Len())
	}
	if b.Total() != 5 {
		t.Fatalf("Total = %d, want 5", b.Total())
	}

	b.Consume(2)
	if !bytes.Equal(b.Bytes(), []byte{3, 4, 5}) {
		t.Fatalf("Bytes = %v, want [3 4 5]", b.Bytes())
	}
	if b.Consumed() != 2 {
		t.Errorf("Consumed = %d, want 2", b.Consumed())
	}

	b.Consume(100)
	if b.Len() != 0 {
		t.Errorf("Len after over-consume = %d, want 0", b.Len())
	}
	if b.Consumed() != 5 || b.Total() != 5 {
		t.Errorf("Consumed/Total = %d/%d, want 5/5", b.Consumed(), b.Total())
	}
}

func TestBufferCompaction(t *testing.T) {
	t.Parallel()

	var b Buffer
	chunk := make([]byte, 4096)
	for i := range chunk {
		chunk[i] = byte(i)
	}

	var want []byte
	for i := 0; i < 64; i++ {
		b.Append(chunk)
		want = append(want, chunk...)
		b.Consume(3000)
		want = want[3000:]
		if !bytes.Equal(b.Bytes(), want) {
			t.Fatalf("iteration %d: unconsumed bytes diverged", i)
		}
	}

	if b.Total() != 64*4096 {
		t.Errorf("Total = %d, want %d", b.Total(), 64*4096)
	}
	if b.Consumed() != 64*3000 {
		t.Errorf("Consumed = %d, want %d", b.Consumed(), 64*3000)
	}
}

func TestBufferConsumeNegative(t *testing.T) {
	t.Parallel()

	var b Buffer
	b.Append([]byte{1})
	b.Consume(-1)
	if b.Len() != 1 {
		t.Errorf("Len = %d, want 1", b.Len())
	}
}
