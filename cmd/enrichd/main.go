package main

import "github.com/curatorhq/enrichd/internal/cli"

func main() {
	cli.Execute()
}
