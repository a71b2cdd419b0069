// Package auth signs and verifies API requests with EIP-712 typed data.
//
// A request is bound to its method, path, body hash and a unix timestamp.
// The client signs that tuple with its wallet key; the server recovers the
// signing address and uses it as the caller for the operation. The recovered
// address therefore replaces any caller field the body might carry, so a
// client can only act for itself.
package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Request headers carrying the signature.
const (
	HeaderAddress   = "X-Auction-Address"
	HeaderSignature = "X-Auction-Signature"
	HeaderTimestamp = "X-Auction-Timestamp"
)

// MaxSkew bounds how far a request timestamp may drift from the server clock.
const MaxSkew = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrBadSignature     = errors.New("signature does not match address")
	ErrStale            = errors.New("request timestamp outside allowed skew")
	ErrReplayed         = errors.New("signature already used")
)

// Signer holds a wallet key and signs requests for one chain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewSigner parses a hex private key (with or without 0x prefix).
func NewSigner(keyHex string, chainID int64) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    big.NewInt(chainID),
	}, nil
}

// Address returns the signer's Ethereum address.
func (s *Signer) Address() common.Address {
	return s.address
}

// Headers signs a request and returns the headers to attach to it.
func (s *Signer) Headers(method, path string, body []byte, now time.Time) (map[string]string, error) {
	ts := strconv.FormatInt(now.Unix(), 10)
	hash, err := requestHash(s.chainID, method, path, body, ts)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	return map[string]string{
		HeaderAddress:   s.address.Hex(),
		HeaderSignature: "0x" + common.Bytes2Hex(sig),
		HeaderTimestamp: ts,
	}, nil
}

// Verifier checks request signatures for one chain. Each signature is
// accepted once; it is remembered until its timestamp leaves the skew window.
type Verifier struct {
	chainID *big.Int
	now     func() time.Time

	mu   sync.Mutex
	seen map[common.Hash]time.Time // signature hash -> forget after
}

// NewVerifier returns a verifier. now defaults to time.Now.
func NewVerifier(chainID int64, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{chainID: big.NewInt(chainID), now: now, seen: make(map[common.Hash]time.Time)}
}

// Verify recovers the signer of a request and checks it matches the claimed
// address header. get is typically http.Header.Get.
func (v *Verifier) Verify(get func(string) string, method, path string, body []byte) (common.Address, error) {
	claimed, sigHex, ts := get(HeaderAddress), get(HeaderSignature), get(HeaderTimestamp)
	if claimed == "" || sigHex == "" || ts == "" {
		return common.Address{}, ErrMissingSignature
	}
	if !common.IsHexAddress(claimed) {
		return common.Address{}, fmt.Errorf("%w: bad address header", ErrBadSignature)
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: bad timestamp", ErrStale)
	}
	now := v.now()
	skew := now.Sub(time.Unix(sec, 0))
	if skew > MaxSkew || skew < -MaxSkew {
		return common.Address{}, ErrStale
	}

	sig := common.FromHex(sigHex)
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature length %d", ErrBadSignature, len(sig))
	}
	sig = append([]byte(nil), sig...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	hash, err := requestHash(v.chainID, method, path, body, ts)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	signer := crypto.PubkeyToAddress(*pub)
	if signer != common.HexToAddress(claimed) {
		return common.Address{}, ErrBadSignature
	}
	if !v.remember(crypto.Keccak256Hash(sig), time.Unix(sec, 0).Add(MaxSkew), now) {
		return common.Address{}, ErrReplayed
	}
	return signer, nil
}

// remember records a signature and reports whether it was new. Entries whose
// timestamp has left the skew window are dropped since Verify rejects them
// as stale anyway.
func (v *Verifier) remember(key common.Hash, until, now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for k, exp := range v.seen {
		if now.After(exp) {
			delete(v.seen, k)
		}
	}
	if _, ok := v.seen[key]; ok {
		return false
	}
	v.seen[key] = until
	return true
}

// requestHash is the EIP-712 digest of an AuctionRequest.
func requestHash(chainID *big.Int, method, path string, body []byte, ts string) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"AuctionRequest": {
				{Name: "method", Type: "string"},
				{Name: "path", Type: "string"},
				{Name: "bodyHash", Type: "bytes32"},
				{Name: "timestamp", Type: "uint256"},
			},
		},
		PrimaryType: "AuctionRequest",
		Domain: apitypes.TypedDataDomain{
			Name:    "MakerAuction",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(chainID)),
		},
		Message: apitypes.TypedDataMessage{
			"method":    strings.ToUpper(method),
			"path":      path,
			"bodyHash":  crypto.Keccak256Hash(body).Hex(),
			"timestamp": ts,
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}
	return hash, nil
}
