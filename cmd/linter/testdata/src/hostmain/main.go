package main

import (
	"log"
	"os"
)

func main() {
	if len(os.Args) > 2 {
		log.Fatal("too many arguments")
	}
	defer func() {
		os.Exit(0)
	}()
	run()
}

func run() {
	panic("collector failed") // want "found usage of panic"

	log.Fatalf("bad config: %s", "x") // want "found usage of log.Fatalf outside of main function"

	log.Panicln("unreachable") // want "found usage of log.Panicln outside of main function"

	os.Exit(1) // want "found usage of os.Exit outside of main function"
}

type server struct{}

func (server) main() {
	os.Exit(2) // want "found usage of os.Exit outside of main function"
}
