package main

import "github.com/Brownie44l1/tsr-api/internal/cli"

func main() {
	cli.Execute()
}
