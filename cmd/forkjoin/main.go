// Command forkjoin validates and runs workflow graphs defined in YAML.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
