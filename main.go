package main

import "stepflow/internal/cli"

func main() {
	cli.Execute()
}
