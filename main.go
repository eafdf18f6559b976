// The main package for the topicstreams executable.
package main

import (
	"github.com/JakeFAU/topicstreams/cmd"
)

func main() {
	cmd.Execute()
}
