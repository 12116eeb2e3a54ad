package keys

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/blake2b"
)

const (
	nanoAlphabet = "13456789abcdefghijkmnopqrstuwxyz"
	nanoPrefix   = "nano_"
	legacyPrefix = "xrb_"

	// NanoPublicKeySize is the size of a Nano account public key.
	NanoPublicKeySize = 32
	// NanoSignatureSize is the size of an ed25519 signature.
	NanoSignatureSize = 64
)

var stateBlockPreamble = [32]byte{31: 6}

// NanoKey signs with ed25519 using blake2b-512 in place of sha512, as the
// Nano protocol requires.
type NanoKey struct {
	scalar *edwards25519.Scalar
	prefix []byte
	public []byte
}

// NewNanoKey expands a 32-byte private key.
func NewNanoKey(priv []byte) *NanoKey {
	h := blake2b.Sum512(priv)
	s, err := edwards25519.NewScalar().SetBytesWithClamping(h[:32])
	if err != nil {
		// SetBytesWithClamping only fails on a wrong input length.
		panic(err)
	}
	public := new(edwards25519.Point).ScalarBaseMult(s).Bytes()
	return &NanoKey{scalar: s, prefix: h[32:], public: public}
}

func (k *NanoKey) PublicKey() []byte {
	return append([]byte(nil), k.public...)
}

// Sign returns the 64-byte signature of msg (a block hash).
func (k *NanoKey) Sign(msg []byte) ([]byte, error) {
	rh, _ := blake2b.New512(nil)
	rh.Write(k.prefix)
	rh.Write(msg)
	r, err := edwards25519.NewScalar().SetUniformBytes(rh.Sum(nil))
	if err != nil {
		return nil, err
	}
	R := new(edwards25519.Point).ScalarBaseMult(r).Bytes()

	kh, _ := blake2b.New512(nil)
	kh.Write(R)
	kh.Write(k.public)
	kh.Write(msg)
	challenge, err := edwards25519.NewScalar().SetUniformBytes(kh.Sum(nil))
	if err != nil {
		return nil, err
	}

	S := edwards25519.NewScalar().MultiplyAdd(challenge, k.scalar, r)
	return append(R, S.Bytes()...), nil
}

// VerifyNano checks an ed25519-blake2b signature.
func VerifyNano(public, msg, sig []byte) bool {
	if len(public) != NanoPublicKeySize || len(sig) != NanoSignatureSize {
		return false
	}
	A, err := new(edwards25519.Point).SetBytes(public)
	if err != nil {
		return false
	}
	S, err := edwards25519.NewScalar().SetCanonicalBytes(sig[32:])
	if err != nil {
		return false
	}

	kh, _ := blake2b.New512(nil)
	kh.Write(sig[:32])
	kh.Write(public)
	kh.Write(msg)
	challenge, err := edwards25519.NewScalar().SetUniformBytes(kh.Sum(nil))
	if err != nil {
		return false
	}

	// R' = [S]B - [k]A
	minusA := new(edwards25519.Point).Negate(A)
	R := new(edwards25519.Point).VarTimeDoubleScalarBaseMult(challenge, minusA, S)
	return hmac.Equal(R.Bytes(), sig[:32])
}

// NanoAddress encodes a public key as nano_ + 52 base32 chars of the key +
// 8 chars of the reversed 5-byte blake2b checksum.
func NanoAddress(public []byte) string {
	return nanoPrefix + encodeNanoBase32(public, 52) + encodeNanoBase32(nanoChecksum(public), 8)
}

// DecodeNanoAddress returns the public key behind a nano_ or xrb_ address.
func DecodeNanoAddress(address string) ([]byte, error) {
	var body string
	switch {
	case strings.HasPrefix(address, nanoPrefix):
		body = address[len(nanoPrefix):]
	case strings.HasPrefix(address, legacyPrefix):
		body = address[len(legacyPrefix):]
	default:
		return nil, fmt.Errorf("invalid nano address prefix")
	}
	if len(body) != 60 {
		return nil, fmt.Errorf("invalid nano address length")
	}

	keyValue, err := decodeNanoBase32(body[:52])
	if err != nil {
		return nil, err
	}
	if keyValue.BitLen() > 8*NanoPublicKeySize {
		return nil, fmt.Errorf("invalid nano address padding")
	}
	public := keyValue.FillBytes(make([]byte, NanoPublicKeySize))

	if encodeNanoBase32(nanoChecksum(public), 8) != body[52:] {
		return nil, fmt.Errorf("invalid nano address checksum")
	}
	return public, nil
}

// NanoStateBlockHash hashes the fields of a state block. balance must fit in
// 128 bits.
func NanoStateBlockHash(account, previous, representative []byte, balance *big.Int, link []byte) []byte {
	h, _ := blake2b.New256(nil)
	h.Write(stateBlockPreamble[:])
	h.Write(account)
	h.Write(previous)
	h.Write(representative)
	h.Write(balance.FillBytes(make([]byte, 16)))
	h.Write(link)
	return h.Sum(nil)
}

// NanoHashHex renders a block hash the way nodes report it.
func NanoHashHex(hash []byte) string {
	return strings.ToUpper(hex.EncodeToString(hash))
}

func nanoChecksum(public []byte) []byte {
	h, _ := blake2b.New(5, nil)
	h.Write(public)
	sum := h.Sum(nil)
	for i, j := 0, len(sum)-1; i < j; i, j = i+1, j-1 {
		sum[i], sum[j] = sum[j], sum[i]
	}
	return sum
}

func encodeNanoBase32(data []byte, chars int) string {
	n := new(big.Int).SetBytes(data)
	mask := big.NewInt(31)
	out := make([]byte, chars)
	for i := chars - 1; i >= 0; i-- {
		out[i] = nanoAlphabet[new(big.Int).And(n, mask).Int64()]
		n.Rsh(n, 5)
	}
	return string(out)
}

func decodeNanoBase32(s string) (*big.Int, error) {
	n := new(big.Int)
	for _, c := range s {
		idx := strings.IndexRune(nanoAlphabet, c)
		if idx < 0 {
			return nil, fmt.Errorf("invalid nano address character %q", c)
		}
		n.Lsh(n, 5)
		n.Or(n, big.NewInt(int64(idx)))
	}
	return n, nil
}

// slip10Derive walks hardened indices from the SLIP-10 ed25519 master key and
// returns the 32-byte private key.
func slip10Derive(seed []byte, path ...uint32) []byte {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	key, chain := sum[:32], sum[32:]

	for _, idx := range path {
		data := make([]byte, 0, 37)
		data = append(data, 0)
		data = append(data, key...)
		data = binary.BigEndian.AppendUint32(data, idx)

		mac = hmac.New(sha512.New, chain)
		mac.Write(data)
		sum = mac.Sum(nil)
		key, chain = sum[:32], sum[32:]
	}
	return key
}
