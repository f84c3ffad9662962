package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const (
	resolverAddr = "0x4976fb03c32e5b8cfe2b6ccb31c09ba78ebaba41"
	ianAddr      = "0x5e8ce7675ecf8e892f704a4de8a268987789d0da"
	ianName      = "rector.ian.eth"
)

func TestNamehash(t *testing.T) {
	cases := map[string]string{
		"":        strings.Repeat("0", 64),
		"eth":     "93cdeb708b7545dc668eb9280176169d1c33cfd8ed6f04690a0bcc88a93fc4ae",
		"foo.eth": "de9b09fd7c5f901e23a3f19fecc54828e9c848539801e86591bd9801b019f84f",
		"FOO.eth": "de9b09fd7c5f901e23a3f19fecc54828e9c848539801e86591bd9801b019f84f",
	}
	for name, want := range cases {
		got := Namehash(name)
		if hex.EncodeToString(got[:]) != want {
			t.Fatalf("Namehash(%q)=%x, want %s", name, got, want)
		}
	}
}

// fakeNode serves eth_chainId and eth_call for a registry with one resolver.
type fakeNode struct {
	chainID  string
	resolver map[[32]byte]string
	addrs    map[[32]byte]string
	names    map[[32]byte]string
	failCall bool
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		chainID:  "0xaa36a7",
		resolver: map[[32]byte]string{},
		addrs:    map[[32]byte]string{},
		names:    map[[32]byte]string{},
	}
}

func (f *fakeNode) setName(name, addr string, reverse bool) {
	node := Namehash(name)
	f.resolver[node] = resolverAddr
	f.addrs[node] = addr
	if reverse {
		rnode := Namehash(strings.TrimPrefix(addr, "0x") + ".addr.reverse")
		f.resolver[rnode] = resolverAddr
		f.names[rnode] = name
	}
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     uint64            `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reply := func(result any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}
	switch req.Method {
	case "eth_chainId":
		reply(f.chainID)
		return
	case "eth_call":
	default:
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -32601, "message": "method not found"}})
		return
	}
	if f.failCall {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": 3, "message": "execution reverted"}})
		return
	}

	var call struct {
		To   string `json:"to"`
		Data string `json:"data"`
	}
	_ = json.Unmarshal(req.Params[0], &call)
	data, _ := hex.DecodeString(strings.TrimPrefix(call.Data, "0x"))
	var node [32]byte
	copy(node[:], data[4:36])
	sel := hex.EncodeToString(data[:4])

	switch {
	case strings.EqualFold(call.To, RegistryAddress) && sel == "0178b8bf":
		reply(encodeAddress(f.resolver[node]))
	case call.To == resolverAddr && sel == "3b3b57de":
		reply(encodeAddress(f.addrs[node]))
	case call.To == resolverAddr && sel == "691f3431":
		reply(encodeString(f.names[node]))
	default:
		reply("0x")
	}
}

func encodeAddress(addr string) string {
	word := make([]byte, 32)
	if addr != "" {
		raw, _ := hex.DecodeString(strings.TrimPrefix(addr, "0x"))
		copy(word[12:], raw)
	}
	return "0x" + hex.EncodeToString(word)
}

func encodeString(s string) string {
	out := make([]byte, 64)
	out[31] = 0x20
	out[63] = byte(len(s))
	padded := make([]byte, (len(s)+31)/32*32)
	copy(padded, s)
	return "0x" + hex.EncodeToString(append(out, padded...))
}

func TestClientResolvesAndLooksUp(t *testing.T) {
	node := newFakeNode()
	node.setName(ianName, ianAddr, true)
	srv := httptest.NewServer(node)
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()

	chain, err := c.ChainID(ctx)
	if err != nil || chain != 11155111 {
		t.Fatalf("ChainID = %d, %v", chain, err)
	}

	addr, err := c.ResolveName(ctx, ianName)
	if err != nil || addr != ianAddr {
		t.Fatalf("ResolveName = %q, %v", addr, err)
	}
	missing, err := c.ResolveName(ctx, "ghost.eth")
	if err != nil || missing != "" {
		t.Fatalf("ResolveName(ghost) = %q, %v", missing, err)
	}

	name, err := c.LookupAddress(ctx, strings.ToUpper(ianAddr[:2])+ianAddr[2:])
	if err != nil || name != ianName {
		t.Fatalf("LookupAddress = %q, %v", name, err)
	}
}

func TestLookupAddressRequiresForwardMatch(t *testing.T) {
	node := newFakeNode()
	node.setName(ianName, ianAddr, true)
	// The name now points somewhere else; the reverse record is stale.
	node.addrs[Namehash(ianName)] = "0x1111111111111111111111111111111111111111"
	srv := httptest.NewServer(node)
	defer srv.Close()

	name, err := New(srv.URL).LookupAddress(context.Background(), ianAddr)
	if err != nil || name != "" {
		t.Fatalf("LookupAddress = %q, %v; want empty", name, err)
	}
}

func TestClientSurfacesRPCErrors(t *testing.T) {
	node := newFakeNode()
	node.failCall = true
	srv := httptest.NewServer(node)
	defer srv.Close()

	_, err := New(srv.URL).ResolveName(context.Background(), ianName)
	rpcErr, ok := err.(*Error)
	if !ok || rpcErr.Code != 3 {
		t.Fatalf("expected rpc error, got %v", err)
	}
}

func TestDecodeStringRejectsShortData(t *testing.T) {
	if _, err := decodeString(make([]byte, 10)); err == nil {
		t.Fatal("expected error")
	}
	bad := make([]byte, 64)
	bad[31] = 0xff
	if _, err := decodeString(bad); err == nil {
		t.Fatal("expected error for out of range offset")
	}
}
