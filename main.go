package main

import "github.com/KaramelBytes/gemdash-cli/cmd"

func main() {
	cmd.Execute()
}
