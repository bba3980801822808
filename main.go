// The main package for the logsift executable.
package main

import (
	"github.com/logsift/logsift/cmd"
)

func main() {
	cmd.Execute()
}
