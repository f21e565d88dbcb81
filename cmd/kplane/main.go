// Command kplane is an admin control plane for Kafka clusters whose brokers
// and legacy consumer groups are coordinated through ZooKeeper.
//
// It runs either as an HTTP admin server (kplane serve) or as a one shot
// command line tool against the same cluster.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kplane:", err)
		os.Exit(1)
	}
}
