package wal

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/kioku-io/kioku/internal/model"
)

// Body variants, one per RecType, CBOR-encoded into Record.Body. The
// record's Type byte is the discriminator, so each variant encodes
// directly rather than through a tagged union.

type PutBody struct {
	Object model.Object `cbor:"object"`
}

type DeleteBody struct {
	Ns string `cbor:"ns"`
	ID string `cbor:"id"`
}

type LeaseAcquireBody struct {
	Ns            string `cbor:"ns"`
	Key           string `cbor:"key"`
	Owner         string `cbor:"owner"`
	Token         uint64 `cbor:"token"`
	ExpiresAtUnix int64  `cbor:"expires_at_unix"`
}

type LeaseRenewBody struct {
	Ns            string `cbor:"ns"`
	Key           string `cbor:"key"`
	Owner         string `cbor:"owner"`
	Token         uint64 `cbor:"token"`
	ExpiresAtUnix int64  `cbor:"expires_at_unix"`
}

type LeaseReleaseBody struct {
	Ns    string `cbor:"ns"`
	Key   string `cbor:"key"`
	Owner string `cbor:"owner"`
	Token uint64 `cbor:"token"`
}

type IdempotencyBody struct {
	Ns            string `cbor:"ns"`
	Key           string `cbor:"key"`
	BodyHash      string `cbor:"body_hash"`
	Response      []byte `cbor:"response"`
	ResponseHash  string `cbor:"response_hash"`
	CommitSeq     uint64 `cbor:"commit_seq"`
	ExpiresAtUnix int64  `cbor:"expires_at_unix"`
}

func EncodeBody(v any) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wal: cbor encode: %w", err)
	}
	return b, nil
}

func DecodePutBody(b []byte) (PutBody, error) {
	var v PutBody
	err := cbor.Unmarshal(b, &v)
	return v, err
}

func DecodeDeleteBody(b []byte) (DeleteBody, error) {
	var v DeleteBody
	err := cbor.Unmarshal(b, &v)
	return v, err
}

func DecodeLeaseAcquireBody(b []byte) (LeaseAcquireBody, error) {
	var v LeaseAcquireBody
	err := cbor.Unmarshal(b, &v)
	return v, err
}

func DecodeLeaseRenewBody(b []byte) (LeaseRenewBody, error) {
	var v LeaseRenewBody
	err := cbor.Unmarshal(b, &v)
	return v, err
}

func DecodeLeaseReleaseBody(b []byte) (LeaseReleaseBody, error) {
	var v LeaseReleaseBody
	err := cbor.Unmarshal(b, &v)
	return v, err
}

func DecodeIdempotencyBody(b []byte) (IdempotencyBody, error) {
	var v IdempotencyBody
	err := cbor.Unmarshal(b, &v)
	return v, err
}
