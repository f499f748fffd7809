package main

import (
	"log"

	"github.com/subletscout/sublet-scout/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
