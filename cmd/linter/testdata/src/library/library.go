package library

import (
	"log"
	"os"
)

func main() {
	os.Exit(1) // want "found usage of os.Exit outside of main function"
}

func Observe(depth int) {
	if depth < 0 {
		panic("negative depth") // want "found usage of panic"
	}
	log.Println("observed", depth)
}

func Shutdown() {
	log.Fatalln("stopping") // want "found usage of log.Fatalln outside of main function"
}
