package rpc

import (
	"encoding/base64"
	"fmt"

	"github.com/fortiblox/rock-destroyer/pkg/txn"
	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
)

// EncodeAccountData encodes account data according to the specified encoding.
// jsonParsed is resolved by the caller; data it cannot parse falls back to
// base64 here.
func EncodeAccountData(data []byte, encoding Encoding) (interface{}, error) {
	switch encoding {
	case EncodingBase58:
		if len(data) > maxBase58AccountData {
			return nil, fmt.Errorf("encoded binary (base 58) data should be less than %d bytes, please use Base64 encoding", maxBase58AccountData)
		}
		return []string{base58.Encode(data), string(EncodingBase58)}, nil

	case EncodingBase64Zstd:
		compressed, err := compressZstd(data)
		if err != nil {
			return nil, fmt.Errorf("zstd compression failed: %w", err)
		}
		return []string{base64.StdEncoding.EncodeToString(compressed), string(EncodingBase64Zstd)}, nil

	default:
		return []string{base64.StdEncoding.EncodeToString(data), string(EncodingBase64)}, nil
	}
}

// maxBase58AccountData is the largest account payload served as base58.
const maxBase58AccountData = 128

// DecodeAccountData decodes account data from the specified encoding.
func DecodeAccountData(encoded string, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingBase58:
		return base58.Decode(encoded)

	case EncodingBase64Zstd:
		compressed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("base64 decode failed: %w", err)
		}
		return decompressZstd(compressed)

	default:
		return base64.StdEncoding.DecodeString(encoded)
	}
}

// DecodeTransaction decodes a wire transaction submitted over RPC.
// sendTransaction and simulateTransaction default to base58.
func DecodeTransaction(encoded string, encoding Encoding) (*txn.Transaction, error) {
	switch encoding {
	case "", EncodingBase58:
		return txn.FromBase58(encoded)
	case EncodingBase64:
		return txn.FromBase64(encoded)
	default:
		return nil, fmt.Errorf("unsupported encoding: %s. Supported encodings: base58, base64", encoding)
	}
}

// EncodeTransaction renders a wire transaction as an [encoded, encoding]
// pair, or as a UiTransaction for the json encoding.
func EncodeTransaction(raw []byte, encoding Encoding) (interface{}, error) {
	switch encoding {
	case EncodingBase58:
		return []string{base58.Encode(raw), string(EncodingBase58)}, nil

	case EncodingBase64:
		return []string{base64.StdEncoding.EncodeToString(raw), string(EncodingBase64)}, nil

	default:
		tx := new(txn.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return nil, err
		}
		return uiTransaction(tx), nil
	}
}

func uiTransaction(tx *txn.Transaction) *UiTransaction {
	msg := &tx.Message
	ui := &UiTransaction{
		Signatures: make([]string, len(tx.Signatures)),
		Message: UiMessage{
			Header: UiHeader{
				NumRequiredSignatures:       msg.Header.NumRequiredSignatures,
				NumReadonlySignedAccounts:   msg.Header.NumReadonlySignedAccounts,
				NumReadonlyUnsignedAccounts: msg.Header.NumReadonlyUnsignedAccounts,
			},
			AccountKeys:     make([]string, len(msg.AccountKeys)),
			RecentBlockhash: msg.RecentBlockhash.String(),
			Instructions:    make([]UiInstruction, len(msg.Instructions)),
		},
	}
	for i, sig := range tx.Signatures {
		ui.Signatures[i] = sig.String()
	}
	for i, key := range msg.AccountKeys {
		ui.Message.AccountKeys[i] = key.String()
	}
	for i, ix := range msg.Instructions {
		accts := make([]int, len(ix.Accounts))
		for j, a := range ix.Accounts {
			accts[j] = int(a)
		}
		ui.Message.Instructions[i] = UiInstruction{
			ProgramIDIndex: ix.ProgramIDIndex,
			Accounts:       accts,
			Data:           base58.Encode(ix.Data),
		}
	}
	return ui
}

// ApplyDataSlice applies a data slice to account data.
func ApplyDataSlice(data []byte, slice *DataSlice) []byte {
	if slice == nil {
		return data
	}

	start := slice.Offset
	if start >= uint64(len(data)) {
		return []byte{}
	}

	end := start + slice.Length
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}

	return data[start:end]
}

// compressZstd compresses data using zstd.
func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

// decompressZstd decompresses zstd-compressed data.
func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}
