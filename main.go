package main

import "vol-funding-engine/internal/cli"

func main() {
	cli.Execute()
}
