package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/codelink-dev/codelink/internal/agent"
	"github.com/codelink-dev/codelink/internal/config"
)

// Version info - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	version := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *version {
		fmt.Printf("CodeLink Agent\n")
		fmt.Printf("  Version:    %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	if flag.Arg(0) == "setup" {
		if err := runSetup(); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		os.Exit(0)
	}

	log.Println("===========================================")
	log.Printf("   CodeLink Agent %s", Version)
	log.Println("===========================================")

	cfg, err := config.Load()
	if err != nil {
		log.Printf("❌ Failed to load config: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("❌ %v", err)
		os.Exit(1)
	}

	a := agent.New(cfg, Version)

	// Blocks until SIGINT/SIGTERM
	if err := a.Start(); err != nil {
		log.Fatalf("Failed to start agent: %v", err)
	}

	log.Println("Agent stopped")
	os.Exit(0)
}
