// The main package for the exporter executable.
package main

import (
	"github.com/JakeFAU/figure-exporter/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
