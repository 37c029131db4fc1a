package main

import "github.com/llmops/govern/cmd"

func main() {
	cmd.Execute()
}
