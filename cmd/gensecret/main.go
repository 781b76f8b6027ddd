package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

const SecretKeyBytesLen = 32

// Prints random secret to sign access tokens with (SECRET_KEY)
func main() {
	format := pflag.StringP("format", "f", "hex", "Output format (hex, base64url)")
	size := pflag.IntP("bytes", "b", SecretKeyBytesLen, "Secret length in bytes")
	pflag.Parse()

	secret, err := generate(*size, *format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(secret)
}

func generate(size int, format string) (string, error) {
	if size < 16 {
		return "", fmt.Errorf("secret must be at least 16 bytes, got %d", size)
	}

	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	switch format {
	case "hex":
		return hex.EncodeToString(b), nil
	case "base64url":
		return base64.RawURLEncoding.EncodeToString(b), nil
	default:
		return "", fmt.Errorf("unknown format %q", format)
	}
}
