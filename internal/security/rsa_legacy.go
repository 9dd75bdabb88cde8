package security

import (
	"crypto/rsa"
	"errors"
	"math/big"
)

// The blaster wire protocol signs by RSA-encrypting a digest with the
// signer's PRIVATE key, and verifies by RSA-decrypting with the signer's
// PUBLIC key and comparing byte-for-byte (see spec §4.3/§6) — the reverse
// of the usual sign-with-private/verify-with-public PKCS1v15 signature
// scheme, which only operates on a fixed hash-OID-prefixed block. Since
// crypto/rsa doesn't expose that operation directly, it's implemented here
// as textbook RSA modular exponentiation with PKCS#1 v1.5 type-1 padding
// (0x00 0x01 0xFF..FF 0x00 || data), matching what the original Python
// implementation's RSA.private_encrypt/public_decrypt produced.

// rsaPrivateEncrypt pads data PKCS#1 v1.5 (block type 1) and raises it to
// priv.D mod priv.N with a plain modular exponentiation (no CRT), for the
// private-key-encrypts direction crypto/rsa does not expose.
func rsaPrivateEncrypt(priv *rsa.PrivateKey, data []byte) ([]byte, error) {
	k := (priv.N.BitLen() + 7) / 8
	padded, err := pkcs1Pad(1, data, k)
	if err != nil {
		return nil, err
	}

	m := new(big.Int).SetBytes(padded)
	if m.Cmp(priv.N) >= 0 {
		return nil, errors.New("message too long for RSA key size")
	}

	c := new(big.Int).Exp(m, priv.D, priv.N)
	return leftPad(c.Bytes(), k), nil
}

// rsaPublicDecrypt reverses rsaPrivateEncrypt using the public exponent.
func rsaPublicDecrypt(pub *rsa.PublicKey, data []byte) ([]byte, error) {
	k := (pub.N.BitLen() + 7) / 8
	if len(data) != k {
		return nil, errors.New("signature length does not match key size")
	}

	c := new(big.Int).SetBytes(data)
	e := big.NewInt(int64(pub.E))
	m := new(big.Int).Exp(c, e, pub.N)

	padded := leftPad(m.Bytes(), k)
	return pkcs1Unpad(1, padded)
}

func pkcs1Pad(blockType byte, data []byte, k int) ([]byte, error) {
	if len(data) > k-11 {
		return nil, errors.New("data too long for PKCS#1 padding")
	}
	padded := make([]byte, k)
	padded[0] = 0x00
	padded[1] = blockType
	padLen := k - len(data) - 3
	for i := 0; i < padLen; i++ {
		padded[2+i] = 0xFF
	}
	padded[2+padLen] = 0x00
	copy(padded[3+padLen:], data)
	return padded, nil
}

func pkcs1Unpad(blockType byte, padded []byte) ([]byte, error) {
	if len(padded) < 11 || padded[0] != 0x00 || padded[1] != blockType {
		return nil, errors.New("invalid PKCS#1 padding")
	}
	i := 2
	for ; i < len(padded); i++ {
		if padded[i] == 0x00 {
			break
		}
	}
	if i == len(padded) {
		return nil, errors.New("invalid PKCS#1 padding: no terminator")
	}
	return padded[i+1:], nil
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}
