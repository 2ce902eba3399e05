package main

import "companionsync/cmd/client/cmd"

func main() {
	cmd.Execute()
}
