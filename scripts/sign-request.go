//go:build ignore
// +build ignore

// sign-request.go - Signs a message for the token JSON-RPC API
//
// Usage:
//   go run scripts/sign-request.go
//
// Generates (or reads from PRIVATE_KEY) an ECDSA key, signs a
// personal_sign message, and prints the headers to paste into a curl
// call against /rpc.

package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

func main() {
	var err error

	keyHex := os.Getenv("PRIVATE_KEY")
	privateKey, err := crypto.GenerateKey()
	if keyHex != "" {
		privateKey, err = crypto.HexToECDSA(keyHex)
	}
	if err != nil {
		log.Fatalf("failed to load key: %v", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	message := os.Getenv("MESSAGE")
	if message == "" {
		message = fmt.Sprintf("token-ledger request %d", time.Now().Unix())
	}

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	sig, err := crypto.Sign(crypto.Keccak256Hash([]byte(prefixed)).Bytes(), privateKey)
	if err != nil {
		log.Fatalf("failed to sign: %v", err)
	}

	fmt.Printf("Address:     %s\n", address.Hex())
	fmt.Printf("X-Message:   %s\n", message)
	fmt.Printf("X-Signature: 0x%s\n", hex.EncodeToString(sig))
	fmt.Println()
	fmt.Println("Example:")
	fmt.Printf(`  curl -s http://localhost:8081/rpc \
    -H 'Content-Type: application/json' \
    -H 'X-Message: %s' \
    -H 'X-Signature: 0x%s' \
    -d '{"jsonrpc":"2.0","method":"erc20_balanceOf","params":{"address":"%s"},"id":1}'
`, message, hex.EncodeToString(sig), address.Hex())
}
