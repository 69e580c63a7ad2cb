package main

import (
	"log"
	"os"

	"github.com/nghianinhnb/semantic-web-football-kg/internal/align"
)

func main() {
	matches, err := align.ParseFile("links/internal_linking.xml")
	if err != nil {
		log.Fatal(err)
	}

	kept := align.Filter(matches, align.Rule{Threshold: 0.95, DropExact: true})
	log.Printf("kept %d of %d matches", len(kept), len(matches))

	if err := align.WriteSameAs(os.Stdout, kept); err != nil {
		log.Fatal(err)
	}
}
