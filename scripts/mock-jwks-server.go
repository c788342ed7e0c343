//go:build ignore
// +build ignore

// mock-jwks-server.go - Simple JWKS mock server for local testing
//
// Usage:
//   go run scripts/mock-jwks-server.go
//
// Serves a generated RSA key as a JWKS document and issues RS256 tokens
// carrying an "address" claim, so the bearer-token auth path can be
// exercised locally. Point the server config at it:
//
//   jwks:
//     url: http://localhost:8088/.well-known/jwks.json

package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	port  = 8088
	keyID = "local-dev-key"
)

var signingKey *rsa.PrivateKey

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func main() {
	var err error
	signingKey, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		log.Fatalf("failed to generate RSA key: %v", err)
	}

	http.HandleFunc("/.well-known/jwks.json", handleJWKS)
	http.HandleFunc("/oauth/token", handleToken)
	http.HandleFunc("/health", handleHealth)

	addr := fmt.Sprintf(":%d", port)
	log.Printf("Mock JWKS server starting on http://localhost%s", addr)
	log.Printf("GET  /.well-known/jwks.json - JWKS document")
	log.Printf("POST /oauth/token           - Returns RS256 JWT (address form field)")
	log.Printf("GET  /health                - Health check")
	log.Fatal(http.ListenAndServe(addr, nil))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func handleJWKS(w http.ResponseWriter, r *http.Request) {
	pub := &signingKey.PublicKey
	jwks := map[string]any{
		"keys": []map[string]string{{
			"kid": keyID,
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jwks)
}

func handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	address := r.FormValue("address")
	if address == "" {
		http.Error(w, "address form field is required", http.StatusBadRequest)
		return
	}

	log.Printf("Token request: address=%s", address)

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":     address,
		"address": address,
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	})
	token.Header["kid"] = keyID

	signed, err := token.SignedString(signingKey)
	if err != nil {
		http.Error(w, "Failed to sign token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   3600,
	})
}
