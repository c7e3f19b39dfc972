package main

import "workshopdl/internal/cli"

func main() {
	cli.Execute()
}
