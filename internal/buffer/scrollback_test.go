package buffer

import (
	"bytes"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNewScrollback(t *testing.T) {
	sb := NewScrollback(100)
	if sb.Cap() != 100 {
		t.Errorf("expected capacity 100, got %d", sb.Cap())
	}
	if sb.Len() != 0 {
		t.Errorf("expected length 0, got %d", sb.Len())
	}
	if sb.Snapshot() != nil {
		t.Error("expected nil snapshot for empty scrollback")
	}

	if NewScrollback(0).Cap() != 1 {
		t.Error("expected capacity 1 for zero input")
	}
	if NewScrollback(-5).Cap() != 1 {
		t.Error("expected capacity 1 for negative input")
	}
}

func TestScrollback_Write(t *testing.T) {
	sb := NewScrollback(10)

	n, err := sb.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("unexpected write result n=%d err=%v", n, err)
	}
	sb.Write([]byte("world"))

	if got := sb.Snapshot(); !bytes.Equal(got, []byte("helloworld")) {
		t.Errorf("expected 'helloworld', got %q", got)
	}
}

func TestScrollback_WrapsAround(t *testing.T) {
	sb := NewScrollback(10)

	sb.Write([]byte("0123456789"))
	sb.Write([]byte("abc"))

	if got := sb.Snapshot(); !bytes.Equal(got, []byte("3456789abc")) {
		t.Errorf("expected '3456789abc', got %q", got)
	}

	sb.Write([]byte("defg"))
	if got := sb.Snapshot(); !bytes.Equal(got, []byte("789abcdefg")) {
		t.Errorf("expected '789abcdefg', got %q", got)
	}
	if sb.Written() != 17 {
		t.Errorf("expected 17 bytes written, got %d", sb.Written())
	}
}

func TestScrollback_WriteLargerThanCapacity(t *testing.T) {
	sb := NewScrollback(5)
	sb.Write([]byte("ab"))
	sb.Write([]byte("0123456789"))

	if got := sb.Snapshot(); !bytes.Equal(got, []byte("56789")) {
		t.Errorf("expected '56789', got %q", got)
	}
}

func TestScrollback_Clear(t *testing.T) {
	sb := NewScrollback(8)
	sb.Write([]byte("abcdefghij"))
	sb.Clear()

	if sb.Len() != 0 {
		t.Errorf("expected empty after clear, got %d", sb.Len())
	}
	sb.Write([]byte("xy"))
	if got := sb.Snapshot(); !bytes.Equal(got, []byte("xy")) {
		t.Errorf("expected 'xy', got %q", got)
	}
}

func TestScrollback_AppendAndTail(t *testing.T) {
	sb := NewScrollback(4)
	if end := sb.Append([]byte("abc")); end != 3 {
		t.Errorf("expected offset 3, got %d", end)
	}
	if end := sb.Append([]byte("def")); end != 6 {
		t.Errorf("expected offset 6, got %d", end)
	}
	data, end := sb.Tail()
	if string(data) != "cdef" || end != 6 {
		t.Errorf("unexpected tail %q at %d", data, end)
	}

	sb.Clear()
	data, end = sb.Tail()
	if len(data) != 0 || end != 6 {
		t.Errorf("clear must keep the offset, got %q at %d", data, end)
	}
	if end := sb.Append(nil); end != 6 {
		t.Errorf("empty append moved the offset to %d", end)
	}
}

func TestScrollback_ConcurrentWrites(t *testing.T) {
	sb := NewScrollback(64)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sb.Write([]byte("abc"))
				_ = sb.Snapshot()
			}
		}()
	}
	wg.Wait()

	if sb.Len() != 64 {
		t.Errorf("expected full scrollback, got %d", sb.Len())
	}
	if sb.Written() != 8*100*3 {
		t.Errorf("expected %d written, got %d", 8*100*3, sb.Written())
	}
}

// **Feature: tabmux, Property 4: Scrollback retains the newest bytes**
// For any sequence of writes, the snapshot equals the last min(cap, total)
// bytes of the concatenated input.
func TestProperty_ScrollbackKeepsSuffix(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("snapshot is the suffix of all writes", prop.ForAll(
		func(capacity int, chunks [][]byte) bool {
			sb := NewScrollback(capacity)
			var all []byte
			for _, c := range chunks {
				sb.Write(c)
				all = append(all, c...)
			}
			want := all
			if len(want) > capacity {
				want = want[len(want)-capacity:]
			}
			got := sb.Snapshot()
			if len(want) == 0 {
				return got == nil
			}
			return bytes.Equal(got, want)
		},
		gen.IntRange(1, 32),
		gen.SliceOf(gen.SliceOf(gen.UInt8())),
	))

	properties.TestingRun(t)
}
