// The main package for the listingcrawler executable.
package main

import (
	"os"

	"github.com/JakeFAU/listing-crawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
