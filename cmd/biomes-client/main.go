package main

import "github.com/vietddude/biomes-client/internal/cli"

func main() {
	cli.Execute()
}
