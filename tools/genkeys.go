package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"matrixci/internal/security"
)

// genkeys writes a fresh ledger signing key pair (hex) into -dir.
func main() {
	dir := flag.String("dir", "./keys", "output directory")
	force := flag.Bool("force", false, "overwrite existing keys")
	flag.Parse()

	pubPath := filepath.Join(*dir, "ledger.pub")
	privPath := filepath.Join(*dir, "ledger.priv")
	if _, err := os.Stat(privPath); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "%s exists, use -force to replace it\n", privPath)
		os.Exit(2)
	}

	pub, priv, err := security.GenerateKeyPair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen error: %v\n", err)
		os.Exit(2)
	}
	if err := os.MkdirAll(*dir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(2)
	}
	if err := security.SaveKeyPair(pub, priv, pubPath, privPath); err != nil {
		fmt.Fprintf(os.Stderr, "save keys: %v\n", err)
		os.Exit(2)
	}
	fmt.Println("public key: ", pubPath)
	fmt.Println("private key:", privPath)
}
