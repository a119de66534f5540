package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lendguard/hedgebot/internal/crypto"
	"github.com/lendguard/hedgebot/internal/domain"
)

// RelayerWallet submits signed ledger payloads through an HTTP relayer that
// settles them on chain on the caller's behalf. It is the production
// implementation of domain.Wallet.
type RelayerWallet struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
}

var _ domain.Wallet = (*RelayerWallet)(nil)

// NewRelayerWallet creates a wallet that submits through the relayer at
// baseURL, e.g. "https://relayer.lendguard.io".
func NewRelayerWallet(baseURL string, signer *crypto.Signer) *RelayerWallet {
	return &RelayerWallet{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer: signer,
	}
}

// SubmitTransaction posts the payload to the relayer and returns the
// transaction hash assigned on settlement.
func (w *RelayerWallet) SubmitTransaction(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/v1/transactions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("ledger/wallet: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Wallet-Address", w.Address())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ledger/wallet: submit: %w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ledger/wallet: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("ledger/wallet: relayer HTTP %d: %w: %s", resp.StatusCode, domain.ErrTransient, string(respBody))
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted:
		return "", fmt.Errorf("ledger/wallet: relayer HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var submitResp struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.Unmarshal(respBody, &submitResp); err != nil {
		return "", fmt.Errorf("ledger/wallet: decode response: %w", err)
	}
	if submitResp.TxHash == "" {
		return "", fmt.Errorf("ledger/wallet: relayer returned no transaction hash")
	}

	return submitResp.TxHash, nil
}

// Address returns the signing wallet's hex address.
func (w *RelayerWallet) Address() string {
	return w.signer.Address().Hex()
}
