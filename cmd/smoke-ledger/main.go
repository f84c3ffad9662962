// Command smoke-ledger registers a throwaway document on a registry relay and
// countersigns and revokes it, checking the relay end to end.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"verifica.org/internal/ledger"
	"verifica.org/internal/ledger/remote"
)

func main() {
	log.SetFlags(0)
	var (
		addr      = flag.String("addr", envDefault("VERIFICA_REGISTRY_ADDR", "localhost:9090"), "registry relay address")
		issuer    = flag.String("issuer", "0x9abdd265383573aec638601d77da43956385cb76", "issuing account")
		recipient = flag.String("recipient", "0x06282f5f6930f1f0829fea710354e25f37de2aef", "recipient account")
	)
	flag.Parse()

	client, err := remote.Dial(*addr)
	if err != nil {
		log.Fatalf("dial registry at %s: %v", *addr, err)
	}
	defer client.Close()

	ctx, cancel := remote.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chain, err := client.ChainID(ctx)
	if err != nil {
		log.Fatalf("chain id: %v", err)
	}

	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		log.Fatalf("random hash: %v", err)
	}
	hash := ledger.MustParseHash(hex.EncodeToString(raw[:]))

	tx, err := client.Register(ctx, *issuer, ledger.Registration{
		Hash:        hash,
		Title:       "smoke test",
		Institution: "verifica",
		Recipients:  []string{*recipient},
		IssuedAt:    time.Now().Unix(),
	})
	if err != nil {
		log.Fatalf("register: %v", err)
	}

	if _, err := client.Register(ctx, *issuer, ledger.Registration{Hash: hash, Recipients: []string{*recipient}}); !ledger.IsAlreadyExists(err) {
		log.Fatalf("expected duplicate registration to be refused, got %v", err)
	}

	ok, err := client.CanSign(ctx, hash, *recipient)
	if err != nil || !ok {
		log.Fatalf("recipient should be able to sign: ok=%v err=%v", ok, err)
	}
	if _, err := client.Countersign(ctx, *recipient, hash); err != nil {
		log.Fatalf("countersign: %v", err)
	}

	entry, found, err := client.Lookup(ctx, hash)
	if err != nil || !found {
		log.Fatalf("lookup: found=%v err=%v", found, err)
	}
	if !entry.Verified || len(entry.Signers) != 1 {
		log.Fatalf("unexpected entry after countersign: %+v", entry)
	}

	var rev *ledger.RevertError
	if err := client.Revoke(ctx, *recipient, hash); !errors.As(err, &rev) {
		log.Fatalf("expected revoke by a non-creator to revert, got %v", err)
	}
	if err := client.Revoke(ctx, *issuer, hash); err != nil {
		log.Fatalf("revoke: %v", err)
	}
	if entry, _, err = client.Lookup(ctx, hash); err != nil || !entry.Revoked {
		log.Fatalf("expected revoked entry: %+v err=%v", entry, err)
	}

	fmt.Printf("registry smoke test passed: chain=%d hash=%s tx=%s\n", chain, hash, tx)
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
