package main

import (
	"flag"
	"fmt"
	"os"

	"shale/internal/inspect"
)

func main() {
	entries := flag.Bool("entries", false, "print every entry, not just the summary")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-entries] <file.log|file.sst|MANIFEST>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	failed := false
	for i, path := range flag.Args() {
		if i > 0 {
			fmt.Println()
		}
		if err := inspect.File(os.Stdout, path, *entries); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}
