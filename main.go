// The main package for the registry-crawler executable.
package main

import (
	"os"

	"github.com/JakeFAU/cert-registry-crawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
