// Package security signs bank decisions so an agent can prove, to anyone
// holding the bank's signer address, that a withdrawal or intent check was
// approved with the stated terms.
package security

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/agent-bank/internal/types"
)

// Receipt is a signed decision. Hash is the Keccak256 of Payload and
// Signature is a 65-byte secp256k1 [R || S || V] signature over Hash.
type Receipt struct {
	Payload   json.RawMessage `json:"payload"`
	Hash      string          `json:"hash"`
	Signature string          `json:"signature"`
	Signer    types.Identity  `json:"signer"`
	SignedAt  int64           `json:"signed_at"`
}

// ReceiptSigner holds the bank's signing key
type ReceiptSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewReceiptSigner loads a hex-encoded secp256k1 key, or generates an
// ephemeral one when hexKey is empty.
func NewReceiptSigner(hexKey string) (*ReceiptSigner, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	if hexKey == "" {
		key, err = crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		logrus.Warn("No signer key configured, receipts use an ephemeral key")
	} else {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid signer key: %w", err)
		}
	}

	s := &ReceiptSigner{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}
	logrus.Infof("Receipt signer initialized with address: %s", s.address.Hex())
	return s, nil
}

// Address returns the signer's address
func (s *ReceiptSigner) Address() types.Identity {
	return types.Identity(s.address.Hex())
}

// Sign marshals payload to JSON and signs its Keccak256 hash
func (s *ReceiptSigner) Sign(payload interface{}) (Receipt, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	hash := crypto.Keccak256Hash(payloadBytes)
	signature, err := crypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to sign payload: %w", err)
	}

	return Receipt{
		Payload:   payloadBytes,
		Hash:      hash.Hex(),
		Signature: hexutil.Encode(signature),
		Signer:    s.Address(),
		SignedAt:  time.Now().Unix(),
	}, nil
}

// VerifyReceipt checks that r is untampered and was signed by r.Signer
func VerifyReceipt(r Receipt) error {
	hash := crypto.Keccak256Hash(r.Payload)
	if hash.Hex() != r.Hash {
		return fmt.Errorf("payload hash mismatch")
	}

	signature, err := hexutil.Decode(r.Signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(signature) != crypto.SignatureLength {
		return fmt.Errorf("invalid signature length: %d", len(signature))
	}

	pub, err := crypto.SigToPub(hash.Bytes(), signature)
	if err != nil {
		return fmt.Errorf("failed to recover signer: %w", err)
	}
	if !crypto.VerifySignature(crypto.FromECDSAPub(pub), hash.Bytes(), signature[:64]) {
		return fmt.Errorf("signature verification failed")
	}
	if recovered := crypto.PubkeyToAddress(*pub).Hex(); recovered != r.Signer.String() {
		return fmt.Errorf("signed by %s, receipt claims %s", recovered, r.Signer)
	}
	return nil
}
