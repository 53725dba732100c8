package message

import (
	"strings"
	"sync"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		want    string
		wantErr error
	}{
		{"ascii", []byte("BYE"), "BYE", nil},
		{"multibyte", []byte("héllo ☃"), "héllo ☃", nil},
		{"exactly max", []byte(strings.Repeat("a", MaxLen)), strings.Repeat("a", MaxLen), nil},
		{"one over max", []byte(strings.Repeat("a", MaxLen+1)), "", ErrTooLarge},
		{"empty", nil, "", ErrEmpty},
		{"invalid utf8", []byte{0xff, 0xfe, 'a'}, "", ErrInvalidUTF8},
		{"truncated rune", []byte{'a', 0xe2, 0x98}, "", ErrInvalidUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.in)
			if err != tt.wantErr {
				t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Decode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadAndClearReturnsWrite(t *testing.T) {
	var c Cell
	c.Write("hello")

	got, ok := c.ReadAndClear()
	if !ok || got != "hello" {
		t.Fatalf("ReadAndClear() = %q, %v; want %q, true", got, ok, "hello")
	}
}

func TestReadAndClearCollapsesWrites(t *testing.T) {
	var c Cell
	for _, s := range []string{"one", "two", "three"} {
		c.Write(s)
	}

	got, ok := c.ReadAndClear()
	if !ok || got != "three" {
		t.Fatalf("ReadAndClear() = %q, %v; want %q, true", got, ok, "three")
	}
	if c.Pending() {
		t.Error("dirty flag still set after drain")
	}
}

func TestReadAndClearIdempotentDrain(t *testing.T) {
	var c Cell
	c.Write("once")

	if _, ok := c.ReadAndClear(); !ok {
		t.Fatal("first drain returned nothing")
	}
	if got, ok := c.ReadAndClear(); ok {
		t.Errorf("second drain returned %q, want nothing", got)
	}
}

func TestEmptyCellHasNothing(t *testing.T) {
	var c Cell
	if got, ok := c.ReadAndClear(); ok {
		t.Errorf("zero Cell returned %q", got)
	}
}

// Every drain must return the newest text published before it, and the last
// write must be observed once all writers finish.
func TestConcurrentWritersAndDrain(t *testing.T) {
	var c Cell
	const writers = 8
	const perWriter = 500

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				c.Write(strings.Repeat(string(rune('a'+w)), 1+i%16))
			}
		}(w)
	}

	writersDone := stop(&wg)
	done := make(chan struct{})
	drained := 0
	go func() {
		defer close(done)
		for {
			select {
			case <-writersDone:
				return
			default:
			}
			if s, ok := c.ReadAndClear(); ok {
				if s == "" {
					t.Error("drained empty text")
				}
				drained++
			}
		}
	}()

	wg.Wait()
	<-done

	c.Write("final")
	got, ok := c.ReadAndClear()
	if !ok || got != "final" {
		t.Fatalf("final drain = %q, %v", got, ok)
	}
	if drained == 0 {
		t.Log("drain goroutine never observed a write")
	}
}

func stop(wg *sync.WaitGroup) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	return ch
}
