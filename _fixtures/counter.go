package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
)

type score struct {
	value uint64
}

var live *score

func main() {
	start, _ := strconv.ParseUint(os.Args[1], 0, 64)
	live = &score{value: start}
	fmt.Printf("%#x\n", &live.value)

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		switch in.Text() {
		case "inc":
			live.value++
			fmt.Println("ok")
		case "print":
			fmt.Println(live.value)
		case "quit":
			return
		}
	}
}
