package main

import "github.com/jmcleod/orion/cmd/orion/cmd"

func main() {
	cmd.Execute()
}
