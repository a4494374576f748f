package rpc

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/omnia-iot/omnia-backend/api"
	"github.com/omnia-iot/omnia-backend/interfaces"
)

// CallError is a failed RPC call as reported by the server.
type CallError struct {
	Method     string
	StatusCode int
	Tag        string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rpc %s returned %d: %s", e.Method, e.StatusCode, e.Tag)
}

// Client signs and sends RPC calls on behalf of one principal.
type Client struct {
	URL    string
	Client *http.Client
	key    *ecdsa.PrivateKey
}

// NewClient creates a client for the server at url. Calls are signed with key.
func NewClient(url string, key *ecdsa.PrivateKey) *Client {
	return &Client{
		URL:    strings.TrimSuffix(url, "/"),
		Client: http.DefaultClient,
		key:    key,
	}
}

// Principal returns the identity the server resolves for this client.
func (c *Client) Principal() interfaces.PrincipalID {
	return interfaces.PrincipalID(crypto.PubkeyToAddress(c.key.PublicKey).Hex())
}

// Call invokes method with args and decodes the result into result, which
// may be nil. A server side error is returned as *CallError.
func (c *Client) Call(ctx context.Context, method string, args any, result any) error {
	body := []byte("{}")
	if args != nil {
		var err error
		body, err = json.Marshal(args)
		if err != nil {
			return fmt.Errorf("could not encode arguments: %w", err)
		}
	}

	path := "/rpc/" + method
	sig, err := crypto.Sign(api.RequestHash(path, body), c.key)
	if err != nil {
		return fmt.Errorf("could not sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.PrincipalIDHeader, string(c.Principal()))
	req.Header.Set(api.PrincipalSignatureHeader, hex.EncodeToString(sig))

	respBody, status, err := c.do(req)
	if err != nil {
		return err
	}

	var resp api.RPCResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("could not parse response (status %d): %w", status, err)
	}
	if resp.Err != "" {
		return &CallError{Method: method, StatusCode: status, Tag: resp.Err}
	}
	if result != nil && len(resp.Ok) > 0 {
		if err := json.Unmarshal(resp.Ok, result); err != nil {
			return fmt.Errorf("could not decode %s result: %w", method, err)
		}
	}
	return nil
}

// SubmitChallenge posts nonce to /ip-challenge. headers are added to the
// request, which is how tests and local tooling stand in for the load
// balancer's X-Forwarded-For.
func (c *Client) SubmitChallenge(ctx context.Context, nonce string, headers http.Header) error {
	body, err := json.Marshal(api.ChallengeRequest{Nonce: nonce})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+"/ip-challenge", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	respBody, status, err := c.do(req)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("ip-challenge returned %d: %s", status, string(respBody))
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	if c.Client == nil {
		c.Client = http.DefaultClient
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("could not reach registry: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("could not read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
