package main

import "companionsync/cmd/server/cmd"

func main() {
	cmd.Execute()
}
