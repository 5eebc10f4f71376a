package main

import (
	"log"
	"os"

	"github.com/bcrosbie/quoteengine/internal/qe/cli"
)

func main() {
	log.SetFlags(0)
	if err := cli.Run(os.Args[1:], "qe"); err != nil {
		log.Fatalf("%v", err)
	}
}
