// Command bmslink talks to battery management systems over Bluetooth LE.
package main

import (
	"context"
	"os"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
