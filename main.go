package main

import "github.com/scembed/scembed/cmd"

func main() {
	cmd.Execute()
}
