package hls

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"

	"github.com/maxerenberg/rawdl"
	"golang.org/x/xerrors"
)

// keyCache fetches each key URL once per download. Fetches are serialised.
type keyCache struct {
	client *rawdl.Client
	mu     sync.Mutex
	keys   map[string][]byte
}

func newKeyCache(client *rawdl.Client) *keyCache {
	return &keyCache{client: client, keys: make(map[string][]byte)}
}

func (c *keyCache) get(ctx context.Context, keyURL string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key, ok := c.keys[keyURL]; ok {
		return key, nil
	}

	key, status, err := c.client.Fetch(ctx, keyURL)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, xerrors.Errorf("can not get key %s: server returns %d", keyURL, status)
	}
	if len(key) != aes.BlockSize {
		return nil, xerrors.Errorf("key %s is %d bytes, want %d", keyURL, len(key), aes.BlockSize)
	}
	c.keys[keyURL] = key
	return key, nil
}

// decrypt returns the clear bytes of an AES-128 segment, or data unchanged
// when the segment is not encrypted.
func (c *keyCache) decrypt(ctx context.Context, seg rawdl.Segment, data []byte) ([]byte, error) {
	switch seg.KeyMethod {
	case "", "NONE":
		return data, nil
	case "AES-128":
	default:
		return nil, xerrors.Errorf("%s encryption is not supported", seg.KeyMethod)
	}
	if seg.KeyURL == "" {
		return nil, xerrors.Errorf("segment %s has no key URI", seg.URL)
	}

	key, err := c.get(ctx, seg.KeyURL)
	if err != nil {
		return nil, err
	}
	iv := ivFromSequence(seg.Sequence)
	if seg.KeyIV != "" {
		if iv, err = ivFromHex(seg.KeyIV); err != nil {
			return nil, xerrors.Errorf("segment %s: %w", seg.URL, err)
		}
	}
	out, err := aes128Decrypt(data, key, iv)
	if err != nil {
		return nil, xerrors.Errorf("decrypt %s: %w", seg.URL, err)
	}
	return out, nil
}

func ivFromHex(s string) ([]byte, error) {
	s = strings.ToLower(s)
	s = strings.TrimPrefix(s, "0x")
	iv, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, xerrors.Errorf("IV is %d bytes, want %d", len(iv), aes.BlockSize)
	}
	return iv, nil
}

// ivFromSequence is the big-endian media sequence number in 16 bytes.
func ivFromSequence(seq uint64) []byte {
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint64(iv[8:], seq)
	return iv
}

func aes128Decrypt(encrypted, key, iv []byte) ([]byte, error) {
	if len(encrypted) == 0 || len(encrypted)%aes.BlockSize != 0 {
		return nil, xerrors.Errorf("ciphertext length %d is not a multiple of the block size", len(encrypted))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	decrypted := make([]byte, len(encrypted))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(decrypted, encrypted)
	return pkcs7Unpad(decrypted)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, xerrors.New("bad PKCS#7 padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, xerrors.New("bad PKCS#7 padding")
		}
	}
	return data[:len(data)-pad], nil
}
