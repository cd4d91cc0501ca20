package main

import "github.com/BioHazard786/deskrelay/cmd"

func main() {
	cmd.Execute()
}
