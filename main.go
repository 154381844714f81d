package main

import "github.com/dimasma0305/watchd/cmd"

func main() {
	cmd.Execute()
}
