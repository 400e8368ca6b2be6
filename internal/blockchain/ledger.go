package blockchain

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"matrixci/internal/security"
)

type Ledger struct {
	mu     sync.Mutex
	blocks []*Block
	path   string
}

// OpenLedger loads an existing ledger file or creates an empty one.
// Ledger file format: JSON lines (one JSON block per line).
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{
		blocks: make([]*Block, 0),
		path:   path,
	}

	// If file missing, create empty file
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		_ = f.Close()
		return l, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return l, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var blk Block
		if err := dec.Decode(&blk); err != nil {
			return nil, fmt.Errorf("failed to decode ledger entry: %w", err)
		}
		l.blocks = append(l.blocks, &blk)
	}
	return l, nil
}

// Blocks returns the in-memory chain. Mutating the returned blocks is only
// useful for tamper tests.
func (l *Ledger) Blocks() []*Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocks
}

// Append builds the next block for e, links it to the tail, signs and persists
// it. Index and prevHash are assigned under the ledger lock so concurrent jobs
// cannot race on them.
func (l *Ledger) Append(e Entry, priv ed25519.PrivateKey, pub ed25519.PublicKey) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := ""
	if len(l.blocks) > 0 {
		prev = l.blocks[len(l.blocks)-1].Hash
	}
	b, err := NewBlock(len(l.blocks), e, prev)
	if err != nil {
		return nil, err
	}
	if err := l.appendLocked(b, priv, pub); err != nil {
		return nil, err
	}
	return b, nil
}

// appendLocked signs b, stores the hex pubkey, persists it as one JSON line
// and keeps it in memory. Callers hold l.mu.
func (l *Ledger) appendLocked(b *Block, priv ed25519.PrivateKey, pub ed25519.PublicKey) error {
	// recompute and set hash to be sure block canonical fields match
	h, err := b.ComputeHash()
	if err != nil {
		return fmt.Errorf("cannot recompute block hash: %w", err)
	}
	b.Hash = h

	if len(l.blocks) > 0 {
		last := l.blocks[len(l.blocks)-1]
		if b.PrevHash != last.Hash {
			return fmt.Errorf("prevHash mismatch: expected %s, got %s", last.Hash, b.PrevHash)
		}
	}

	if len(priv) != ed25519.PrivateKeySize {
		return errors.New("private key is empty, cannot sign block")
	}
	b.Signature = security.SignData(priv, []byte(b.Hash))
	b.PubKey = hex.EncodeToString(pub)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(b); err != nil {
		return fmt.Errorf("write ledger file: %w", err)
	}

	l.blocks = append(l.blocks, b)
	return nil
}

// NextIndex returns the next block index
func (l *Ledger) NextIndex() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blocks)
}

// LastHash returns the tip of the chain (or empty if none)
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.blocks) == 0 {
		return ""
	}
	return l.blocks[len(l.blocks)-1].Hash
}
