// The main package for the discourse-archiver executable.
package main

import (
	"github.com/JakeFAU/discourse-archiver/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
