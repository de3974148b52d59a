package main

import "github.com/minhvu-dev/subsweep/internal/cli"

func main() {
	cli.Execute()
}
