package wire

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	h := Header{Cmd: CmdPingLeader, Status: StatusOK, PkgLen: 42}

	if err := WriteHeader(&buf, h); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}

	got, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestEncodeDecodeTrackerStatus(t *testing.T) {
	s := TrackerStatusBody{IfLeader: true, RunningTime: 1234, RestartInterval: 56}
	body := EncodeTrackerStatus(s)

	got, err := DecodeTrackerStatus(body)
	if err != nil {
		t.Fatalf("DecodeTrackerStatus: %v", err)
	}
	if got != s {
		t.Errorf("got %+v, want %+v", got, s)
	}
}

func TestDecodeTrackerStatusWrongLength(t *testing.T) {
	_, err := DecodeTrackerStatus([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected error for malformed body")
	}
	var wireErr *Error
	if !errors.As(err, &wireErr) || wireErr.Kind != ProtocolMalformed {
		t.Errorf("expected ProtocolMalformed, got %v", err)
	}
}

func TestEncodeDecodeIPPort(t *testing.T) {
	body, err := EncodeIPPort("10.0.0.1:22122")
	if err != nil {
		t.Fatalf("EncodeIPPort: %v", err)
	}
	if len(body) != IPPortSize {
		t.Fatalf("got length %d, want %d", len(body), IPPortSize)
	}

	got, err := DecodeIPPort(body)
	if err != nil {
		t.Fatalf("DecodeIPPort: %v", err)
	}
	if got != "10.0.0.1:22122" {
		t.Errorf("got %q", got)
	}
}

func TestEncodeIPPortTooLong(t *testing.T) {
	long := make([]byte, IPPortSize+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := EncodeIPPort(string(long)); err == nil {
		t.Fatal("expected error for oversized ip:port")
	}
}

func TestEncodeDecodeTrunkRecords(t *testing.T) {
	records := []TrunkRecord{
		{GroupName: "group1", TrunkServerID: "192.168.0.1"},
		{GroupName: "group2", TrunkServerID: ""},
	}

	body, err := EncodeTrunkRecords(records)
	if err != nil {
		t.Fatalf("EncodeTrunkRecords: %v", err)
	}
	if len(body) != 2*TrunkRecordSize {
		t.Fatalf("got length %d, want %d", len(body), 2*TrunkRecordSize)
	}

	got, err := DecodeTrunkRecords(body)
	if err != nil {
		t.Fatalf("DecodeTrunkRecords: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	for i := range records {
		if got[i] != records[i] {
			t.Errorf("record %d: got %+v, want %+v", i, got[i], records[i])
		}
	}
}

func TestDecodeTrunkRecordsEmptyBody(t *testing.T) {
	records, err := DecodeTrunkRecords(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records != nil {
		t.Errorf("expected nil records, got %v", records)
	}
}

func TestDecodeTrunkRecordsMalformedLength(t *testing.T) {
	_, err := DecodeTrunkRecords(make([]byte, TrunkRecordSize+1))
	if err == nil {
		t.Fatal("expected error for non-multiple length")
	}
	var wireErr *Error
	if !errors.As(err, &wireErr) || wireErr.Kind != ProtocolMalformed {
		t.Errorf("expected ProtocolMalformed, got %v", err)
	}
}

func TestSendRequestRejected(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		h, _, err := ReadRequest(server, time.Second)
		if err != nil {
			return
		}
		_ = h
		WriteResponse(server, StatusRejected, nil)
	}()

	_, _, err := SendRequest(client, CmdNotifyNextLeader, nil, time.Second)
	if err == nil {
		t.Fatal("expected rejection error")
	}
	var wireErr *Error
	if !errors.As(err, &wireErr) || wireErr.Kind != ProtocolRejected {
		t.Errorf("expected ProtocolRejected, got %v", err)
	}
}

func TestSendRequestOK(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, body, err := ReadRequest(server, time.Second)
		if err != nil {
			return
		}
		WriteResponse(server, StatusOK, body)
	}()

	status, resp, err := SendRequest(client, CmdGetTrackerStatus, []byte("hello"), time.Second)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if status != StatusOK {
		t.Errorf("got status %d, want StatusOK", status)
	}
	if string(resp) != "hello" {
		t.Errorf("got body %q, want %q", resp, "hello")
	}
}
