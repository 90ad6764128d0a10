// Command demoserver serves a fake agency website for trying the scanner
// locally.
// Usage: go run ./cmd/demoserver [port] [profile]
// Default port: 9999, default profile: uswds
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/danielnaab/site-scanning-engine/internal/demoserver"
)

func main() {
	cfg := demoserver.DefaultConfig()

	// Optional: custom port and profile from command line
	if len(os.Args) > 1 {
		port, err := strconv.Atoi(os.Args[1])
		if err != nil || port < 1 || port > 65535 {
			log.Fatalf("Invalid port: %s", os.Args[1])
		}
		cfg.Port = port
	}
	if len(os.Args) > 2 {
		cfg.Profile = os.Args[2]
	}

	server, err := demoserver.NewDemoServer(cfg)
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	fmt.Println("===========================================")
	fmt.Println("   Site Scanning Demo Server")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Printf("Profiles: %s\n", strings.Join(demoserver.Profiles(), ", "))
	fmt.Println()

	if err := server.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
