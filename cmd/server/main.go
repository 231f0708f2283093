package main

import "github.com/kiwari-pos/console/internal/cli"

func main() {
	cli.Execute()
}
