package main

import "github.com/use-agent/harvest/cmd/harvestctl/cmd"

func main() {
	cmd.Execute()
}
