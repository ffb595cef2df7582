package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCmd().Execute(); nil != err {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
