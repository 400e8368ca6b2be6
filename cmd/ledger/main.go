package main

import (
	"fmt"
	"os"

	"matrixci/internal/blockchain"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: ledger <inspect|verify> <ledger.jsonl> [run-id]")
		os.Exit(1)
	}

	cmd := os.Args[1]
	ledgerPath := os.Args[2]

	if _, err := os.Stat(ledgerPath); err != nil {
		fmt.Printf("Failed to open ledger: %v\n", err)
		os.Exit(1)
	}
	ledger, err := blockchain.OpenLedger(ledgerPath)
	if err != nil {
		fmt.Printf("Failed to open ledger: %v\n", err)
		os.Exit(1)
	}

	switch cmd {
	case "inspect":
		var runID string
		if len(os.Args) > 3 {
			runID = os.Args[3]
		}
		for _, b := range ledger.Blocks() {
			if runID != "" && b.RunID != runID {
				continue
			}
			fmt.Printf("Index=%d Run=%s Job=%q Status=%s Agent=%s Hash=%s\n",
				b.Index, b.RunID, b.Job, b.Status, b.AgentID, short(b.Hash))
		}

	case "verify":
		if err := ledger.VerifyChain(); err != nil {
			fmt.Printf("Verification FAILED: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Ledger verification OK (%d blocks, tip %s)\n", ledger.NextIndex(), short(ledger.LastHash()))

	default:
		fmt.Println("Unknown command:", cmd)
		os.Exit(1)
	}
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
