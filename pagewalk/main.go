// Package main is the entry point of the pagewalk command.
package main

import "github.com/sarchlab/pagewalk/pagewalk/cmd"

func main() {
	cmd.Execute()
}
