package main

import "github.com/sievelab/pulse/cmd/pulse/cmd"

func main() {
	cmd.Execute()
}
