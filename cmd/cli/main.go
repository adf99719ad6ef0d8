package main

import "github.com/antisplit/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
