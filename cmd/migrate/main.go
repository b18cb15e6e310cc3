// migrate applies the embedded SQL migrations: go run ./cmd/migrate -direction up|down, or -status.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/askeywa/Immigration-V2-sub004/internal/config"
	"github.com/askeywa/Immigration-V2-sub004/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	status := flag.Bool("status", false, "Print the applied version and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if *status {
		version, dirty, err := migrate.Status(cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		fmt.Printf("version %d (dirty=%v)\n", version, dirty)
		return
	}

	d, err := migrate.ParseDirection(*direction)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(2)
	}
	if err := migrate.Run(cfg.DatabaseURL, d); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
