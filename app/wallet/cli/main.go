// This program sends and inspects ledger transactions from a local key file.
package main

import "github.com/ardanlabs/powledger/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
