package main

import "github.com/15201047795/outpost-core/cmd"

func main() {
	cmd.Execute()
}
