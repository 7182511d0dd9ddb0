package agent

import (
	"encoding/json"
	"fmt"
	"log"

	qrcode "github.com/skip2/go-qrcode"
)

// pairingQRData is the payload encoded in the pairing QR code. The
// mobile scans it to prefill the relay URL alongside the code.
type pairingQRData struct {
	Type        string `json:"type"` // "codelink_pairing"
	Relay       string `json:"relay"`
	PairingCode string `json:"pairingCode"`
}

// displayPairingCode prints the operator banner whenever register_ok
// delivers a code: on first registration, on reconnect (same code), and
// after an invalidation rotates it.
func (a *Agent) displayPairingCode(code string) {
	a.mu.RLock()
	relayURL := a.cfg.RelayURL
	a.mu.RUnlock()

	fmt.Println("\n╔══════════════════════════════════════════╗")
	fmt.Println("║        CodeLink - Pair your phone         ║")
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Pairing code:  %s\n", code)
	fmt.Println()

	payload, _ := json.Marshal(pairingQRData{
		Type:        "codelink_pairing",
		Relay:       relayURL,
		PairingCode: code,
	})

	qr, err := qrcode.New(string(payload), qrcode.Medium)
	if err != nil {
		log.Printf("⚠️  Failed to generate pairing QR: %v", err)
	} else {
		fmt.Println(qr.ToSmallString(false))
	}

	fmt.Println("Enter the code in the mobile app, or scan the QR.")
	log.Println("✅ Registered with relay - waiting for mobile connections")
}
