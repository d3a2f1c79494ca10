package main

import "convodesk/cmd/cli"

func main() {
	cli.Execute()
}
