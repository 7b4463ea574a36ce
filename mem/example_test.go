package mem_test

import (
	"fmt"

	"github.com/dacapoday/flashfs/mem"
)

func Example() {
	flash := mem.New(16)

	// Programming only clears bits
	flash.WriteAt([]byte("hello"), 0)

	buf := make([]byte, 6)
	n, _ := flash.ReadAt(buf, 0)
	fmt.Printf("%q\n", buf[:n])

	// Rewriting needs an erase first
	_, err := flash.WriteAt([]byte("world"), 0)
	fmt.Println(err)

	flash.Erase(0, 16)
	flash.WriteAt([]byte("world"), 0)
	flash.ReadAt(buf, 0)
	fmt.Printf("%q\n", buf[:5])

	// Output:
	// "hello\xff"
	// program over unerased bits
	// "world"
}
