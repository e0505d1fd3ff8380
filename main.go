package main

import "github.com/cstlee/RooBench/cmd"

func main() {
	cmd.Execute()
}
