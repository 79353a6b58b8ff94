package main

import "github.com/AI-driven-ST-Foundation/agent/cmd"

func main() {
	cmd.Execute()
}
