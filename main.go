package main

import "github.com/kasuboski/watchstate/cmd"

func main() {
	cmd.Execute()
}
