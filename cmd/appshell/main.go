// Command appshell runs the action dispatch pipeline.
package main

import "github.com/appshell/appshell/cmd/appshell/cmd"

func main() {
	cmd.Execute()
}
