// The main package for the iptu-scraper executable.
package main

import (
	"os"

	"github.com/tributolabs/iptu-scraper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
