package pin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/ipfs/go-cid"
)

// Pinata pins files through the Pinata pinFileToIPFS API.
type Pinata struct {
	endpoint  string
	gateway   string
	jwt       string
	apiKey    string
	apiSecret string
	http      *http.Client
}

var _ Pinner = (*Pinata)(nil)

// PinataConfig holds the credentials and endpoints. Either JWT or the
// key/secret pair must be set.
type PinataConfig struct {
	Endpoint  string
	Gateway   string
	JWT       string
	APIKey    string
	APISecret string
	Client    *http.Client
}

// NewPinata creates a Pinata pinner.
func NewPinata(cfg PinataConfig) (*Pinata, error) {
	if cfg.JWT == "" && (cfg.APIKey == "" || cfg.APISecret == "") {
		return nil, fmt.Errorf("pin: pinata credentials are required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.pinata.cloud/pinning/pinFileToIPFS"
	}
	if cfg.Gateway == "" {
		cfg.Gateway = "https://gateway.pinata.cloud/ipfs/"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Pinata{
		endpoint:  cfg.Endpoint,
		gateway:   cfg.Gateway,
		jwt:       cfg.JWT,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		http:      cfg.Client,
	}, nil
}

type pinataResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

func (p *Pinata) Upload(ctx context.Context, name string, data []byte) (Pin, error) {
	if err := checkSize(data); err != nil {
		return Pin{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return Pin{}, err
	}
	if _, err := fw.Write(data); err != nil {
		return Pin{}, err
	}
	meta, _ := json.Marshal(map[string]any{
		"name":      name,
		"keyvalues": map[string]string{"uploadedAt": time.Now().UTC().Format(time.RFC3339)},
	})
	if err := mw.WriteField("pinataMetadata", string(meta)); err != nil {
		return Pin{}, err
	}
	if err := mw.WriteField("pinataOptions", `{"cidVersion":0}`); err != nil {
		return Pin{}, err
	}
	if err := mw.Close(); err != nil {
		return Pin{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return Pin{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if p.jwt != "" {
		req.Header.Set("Authorization", "Bearer "+p.jwt)
	} else {
		req.Header.Set("pinata_api_key", p.apiKey)
		req.Header.Set("pinata_secret_api_key", p.apiSecret)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return Pin{}, fmt.Errorf("pin: pinata request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Pin{}, fmt.Errorf("pin: pinata returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out pinataResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Pin{}, fmt.Errorf("pin: decode pinata response: %w", err)
	}
	c, err := cid.Decode(out.IpfsHash)
	if err != nil {
		return Pin{}, fmt.Errorf("pin: pinata returned invalid cid %q: %w", out.IpfsHash, err)
	}
	return Pin{CID: c.String(), URL: joinURL(p.gateway, c.String())}, nil
}
