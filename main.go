package main

import "github.com/mselser95/polymarket-ledger/cmd"

func main() {
	cmd.Execute()
}
