package buffer_test

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/c360/flexbuf/pkg/buffer"
)

func Example() {
	b, err := buffer.New(8, 0)
	if err != nil {
		panic(err)
	}
	defer b.Close()

	w, _ := b.AcquireWrite(6, false, 0)
	w.Fill([]byte("abcdef"))
	_ = b.CommitWrite(w)

	r, _ := b.AcquireRead(4, false, 0)
	fmt.Println(string(r.Primary()))
	_ = b.CommitRead(r)

	// position is 6: a 4 byte write wraps around the end of storage
	w, _ = b.AcquireWrite(4, false, 0)
	fmt.Println(w)
	w.Fill([]byte("ghij"))
	_ = w.Commit()

	fmt.Println(b.PeekOccupied(), b.PeekFree())
	// Output:
	// abcd
	// write[6,8)+[0,2)
	// 6 2
}

func ExampleBuffer_AcquireRead_partial() {
	b, _ := buffer.New(16, 0)
	defer b.Close()

	w, _ := b.AcquireWrite(3, false, 0)
	w.Fill([]byte("xyz"))
	_ = w.Commit()

	_, err := b.AcquireRead(10, false, 0)
	fmt.Println(err)

	r, _ := b.AcquireRead(10, true, 0)
	fmt.Println(r.Len())
	_ = r.Abandon()
	// Output:
	// buffer: requested length not available
	// 3
}

func ExampleNewWriter() {
	b, _ := buffer.New(4, 0)
	defer b.Close()

	go func() {
		w := buffer.NewWriter(b, 0, buffer.Infinite)
		_, _ = io.Copy(w, strings.NewReader("streams through a tiny ring\n"))
		_ = w.Close()
	}()

	_, _ = io.Copy(os.Stdout, buffer.NewReader(b, 0, buffer.Infinite))
	// Output:
	// streams through a tiny ring
}
