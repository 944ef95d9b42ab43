package main

import "github.com/mnemo-labs/mnemolite/internal/cli"

func main() {
	cli.Execute()
}
