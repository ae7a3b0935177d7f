package wal

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := Record{Type: RecPut, Seq: 42, TsUnix: 1700000000, Body: []byte("hello")}
	frame, err := Encode(rec)
	require.NoError(t, err)

	got, err := Decode(bytes.NewReader(frame))
	require.NoError(t, err)
	require.Equal(t, rec.Type, got.Type)
	require.Equal(t, rec.Seq, got.Seq)
	require.Equal(t, rec.TsUnix, got.TsUnix)
	require.Equal(t, rec.Body, got.Body)
	require.Equal(t, uint64(0), got.NsHash, "ns_hash is reserved and must stay zero")
}

func TestDecodeCleanEOF(t *testing.T) {
	_, err := Decode(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}

func TestDecodeTornTail(t *testing.T) {
	rec := Record{Type: RecDelete, Seq: 1, TsUnix: 1, Body: []byte("x")}
	frame, err := Encode(rec)
	require.NoError(t, err)

	for cut := 1; cut <= 10; cut++ {
		truncated := frame[:len(frame)-cut]
		_, err := Decode(bytes.NewReader(truncated))
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	}
}

func TestDecodeCRCMismatch(t *testing.T) {
	rec := Record{Type: RecPut, Seq: 7, TsUnix: 1, Body: []byte("payload")}
	frame, err := Encode(rec)
	require.NoError(t, err)

	corrupted := append([]byte(nil), frame...)
	corrupted[headerSize] ^= 0xFF // flip a bit inside the body

	_, err = Decode(bytes.NewReader(corrupted))
	require.ErrorIs(t, err, ErrCRCMismatch)
}

func TestDecodeBadMagic(t *testing.T) {
	rec := Record{Type: RecPut, Seq: 1, TsUnix: 1, Body: []byte("x")}
	frame, err := Encode(rec)
	require.NoError(t, err)
	frame[0] ^= 0xFF

	_, err = Decode(bytes.NewReader(frame))
	require.ErrorIs(t, err, ErrCRCMismatch)
}
