// Package rpc implements identity.Conn against an Ethereum JSON-RPC endpoint
// using the ENS registry.
package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/sha3"

	"verifica.org/internal/identity"
)

// RegistryAddress is the ENS registry, deployed at the same address on
// mainnet and Sepolia.
const RegistryAddress = "0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e"

// Function selectors.
var (
	selResolver = mustHex("0178b8bf") // resolver(bytes32)
	selAddr     = mustHex("3b3b57de") // addr(bytes32)
	selName     = mustHex("691f3431") // name(bytes32)
)

const maxResponseBytes = 1 << 20

// Client talks JSON-RPC over HTTP.
type Client struct {
	url      string
	registry string
	http     *http.Client
	nextID   atomic.Uint64
}

var _ identity.Conn = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRegistry overrides the ENS registry address.
func WithRegistry(addr string) Option {
	return func(c *Client) {
		if addr != "" {
			c.registry = addr
		}
	}
}

// New creates a Client for the endpoint url.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:      url,
		registry: RegistryAddress,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	var r response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&r); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if r.Error != nil {
		return r.Error
	}
	return json.Unmarshal(r.Result, out)
}

// ChainID returns the network's chain id.
func (c *Client) ChainID(ctx context.Context) (int64, error) {
	var raw string
	if err := c.call(ctx, "eth_chainId", []any{}, &raw); err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimPrefix(raw, "0x"), 16, 64)
}

func (c *Client) ethCall(ctx context.Context, to string, data []byte) ([]byte, error) {
	var raw string
	params := []any{
		map[string]string{"to": to, "data": "0x" + hex.EncodeToString(data)},
		"latest",
	}
	if err := c.call(ctx, "eth_call", params, &raw); err != nil {
		return nil, err
	}
	return hex.DecodeString(strings.TrimPrefix(raw, "0x"))
}

func (c *Client) resolverOf(ctx context.Context, node [32]byte) (string, error) {
	out, err := c.ethCall(ctx, c.registry, append(append([]byte{}, selResolver...), node[:]...))
	if err != nil {
		return "", err
	}
	return decodeAddress(out)
}

// ResolveName returns the address record of name, or "" when unset.
func (c *Client) ResolveName(ctx context.Context, name string) (string, error) {
	node := Namehash(name)
	resolver, err := c.resolverOf(ctx, node)
	if err != nil || resolver == "" {
		return "", err
	}
	out, err := c.ethCall(ctx, resolver, append(append([]byte{}, selAddr...), node[:]...))
	if err != nil {
		return "", err
	}
	return decodeAddress(out)
}

// LookupAddress returns the primary name of address, or "" when unset or when
// the name does not resolve back to the same address.
func (c *Client) LookupAddress(ctx context.Context, address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	node := Namehash(strings.TrimPrefix(address, "0x") + ".addr.reverse")
	resolver, err := c.resolverOf(ctx, node)
	if err != nil || resolver == "" {
		return "", err
	}
	out, err := c.ethCall(ctx, resolver, append(append([]byte{}, selName...), node[:]...))
	if err != nil {
		return "", err
	}
	name, err := decodeString(out)
	if err != nil || name == "" {
		return "", err
	}

	forward, err := c.ResolveName(ctx, name)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(forward, address) {
		return "", nil
	}
	return strings.ToLower(name), nil
}

// Namehash implements the ENS name hash.
func Namehash(name string) [32]byte {
	var node [32]byte
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := keccak([]byte(labels[i]))
		copy(node[:], keccak(node[:], labelHash))
	}
	return node
}

func keccak(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

var errShortReturn = errors.New("rpc: short return data")

func decodeAddress(word []byte) (string, error) {
	if len(word) == 0 {
		return "", nil
	}
	if len(word) < 32 {
		return "", errShortReturn
	}
	addr := word[12:32]
	if bytes.Equal(addr, make([]byte, 20)) {
		return "", nil
	}
	return "0x" + hex.EncodeToString(addr), nil
}

func decodeString(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	if len(data) < 64 {
		return "", errShortReturn
	}
	size := uint64(len(data))
	offset := wordToInt(data[0:32])
	if offset > size || offset+32 > size {
		return "", errShortReturn
	}
	length := wordToInt(data[offset : offset+32])
	start := offset + 32
	if length > size || start+length > size {
		return "", errShortReturn
	}
	return string(data[start : start+length]), nil
}

func wordToInt(word []byte) uint64 {
	var n uint64
	for _, b := range word[24:32] {
		n = n<<8 | uint64(b)
	}
	return n
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
