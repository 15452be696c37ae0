// Command gemini fetches Gemini URLs, serves directories over Gemini and
// creates server certificates.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
