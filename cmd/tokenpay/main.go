package main

import "github.com/vitwit/tokenpay/internal/cli"

func main() {
	cli.Execute()
}
