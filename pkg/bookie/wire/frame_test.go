package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"
)

func TestFrameRoundTrip_AddRequest(t *testing.T) {
	var buf bytes.Buffer
	codecUnderTest := NewCodec(bufio.NewReader(&buf), bufio.NewWriter(&buf))

	req := &Request{Add: &AddRequest{
		Header:    Header{Version: 0, OpType: OpAdd, TxnID: 42},
		LedgerID:  7,
		EntryID:   3,
		MasterKey: []byte("key"),
		Body:      []byte("hello"),
		Flag:      AddFlagNone,
	}}

	if err := codecUnderTest.EncodeRequest(req); err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeRequest(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Add == nil {
		t.Fatalf("expected Add request, got %#v", decoded)
	}
	if decoded.Add.TxnID != 42 || decoded.Add.LedgerID != 7 || decoded.Add.EntryID != 3 {
		t.Fatalf("round trip mismatch: %#v", decoded.Add)
	}
	if string(decoded.Add.Body) != "hello" {
		t.Fatalf("body mismatch: %q", decoded.Add.Body)
	}
}

func TestFrameRoundTrip_ReadResponse(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	resp := &Response{Read: &ReadResponse{
		Header:   Header{Version: 0, OpType: OpRead, TxnID: 9},
		Status:   uint8(0),
		LedgerID: 9,
		EntryID:  77,
		Body:     []byte("entry-body"),
	}}
	if err := EncodeResponse(w, resp); err != nil {
		t.Fatalf("encode: %v", err)
	}

	c := NewCodec(bufio.NewReader(&buf), nil)
	decoded, err := c.DecodeResponse()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Read == nil {
		t.Fatalf("expected Read response, got %#v", decoded)
	}
	if decoded.Read.EntryID != 77 || decoded.Read.LedgerID != 9 {
		t.Fatalf("round trip mismatch: %#v", decoded.Read)
	}
}

func TestDecodeResponse_RejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxFrameLength+1)
	buf.Write(lenBuf[:])

	c := NewCodec(bufio.NewReader(&buf), nil)
	_, err := c.DecodeResponse()
	if err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeResponse_CorruptPayload(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	garbage := []byte{0xff, 0xff, 0xff}
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(garbage)))
	buf.Write(lenBuf[:])
	buf.Write(garbage)

	c := NewCodec(bufio.NewReader(&buf), nil)
	_, err := c.DecodeResponse()
	if err == nil {
		t.Fatalf("expected a decode error")
	}
}
