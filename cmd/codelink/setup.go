package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/codelink-dev/codelink/internal/config"
)

// runSetup interactively fills the key/value store. Values already in
// the store (or the environment) are offered as defaults; the forge
// token is read without echo.
func runSetup() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Println("CodeLink agent setup")
	fmt.Println("--------------------")
	fmt.Printf("Agent identity: %s\n\n", cfg.Identity)

	reader := bufio.NewReader(os.Stdin)

	relay, err := promptLine(reader, "Relay URL", cfg.RelayURL)
	if err != nil {
		return err
	}
	cfg.RelayURL = relay

	token, err := promptSecret("GitHub token (input hidden)")
	if err != nil {
		return err
	}
	if token != "" {
		cfg.GitHubToken = token
	}

	mode, err := promptLine(reader, "Auth mode (subscription/api-key)", string(cfg.AuthMode))
	if err != nil {
		return err
	}
	cfg.AuthMode = config.AuthMode(mode)

	if cfg.AuthMode == config.AuthModeAPIKey {
		key, err := promptSecret("Provider API key (input hidden)")
		if err != nil {
			return err
		}
		if key != "" {
			cfg.ProviderKey = key
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("\n✅ Configuration written to %s\n", config.Path())
	fmt.Println("Run 'codelink' to start the daemon.")
	return nil
}

// promptLine reads one trimmed line, keeping the default on empty input.
func promptLine(reader *bufio.Reader, label, def string) (string, error) {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}

	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

// promptSecret reads a value with terminal echo disabled.
func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
