package modbus

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/codec"
)

func TestTCPEncodeDecode(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		packager := &tcpPackager{
			transactionID: rapid.Uint32().Draw(t, "transactionID"),
			SlaveID:       rapid.Byte().Draw(t, "SlaveID"),
		}

		pdu := &ProtocolDataUnit{
			FunctionCode: rapid.Byte().Draw(t, "FunctionCode"),
			Data:         rapid.SliceOfN(rapid.Byte(), 0, tcpMaxLength-tcpHeaderSize-1).Draw(t, "Data"),
		}

		raw, err := packager.Encode(pdu)
		if err != nil {
			t.Fatalf("error while encoding: %+v", err)
		}
		if err := packager.Verify(raw, raw); err != nil {
			t.Fatalf("frame does not verify against itself: %v", err)
		}

		dpdu, err := packager.Decode(raw)
		if err != nil {
			t.Fatalf("error while decoding: %+v", err)
		}

		if !cmp.Equal(pdu, dpdu) {
			t.Errorf("invalid pdu: %s", cmp.Diff(pdu, dpdu))
		}
	})
}

// A read response framed with the request header decodes to the words it
// carries; with any other transaction id it is a frame error.
func TestTCPReadResponse(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		packager := &tcpPackager{SlaveID: rapid.Byte().Draw(t, "SlaveID")}
		values := rapid.SliceOfN(rapid.Uint16(), 1, 125).Draw(t, "Values")
		functionCode := rapid.SampledFrom([]byte{FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters}).Draw(t, "FunctionCode")

		request, err := packager.Encode(&ProtocolDataUnit{
			FunctionCode: functionCode,
			Data:         dataBlock(0, uint16(len(values))),
		})
		if err != nil {
			t.Fatalf("error while encoding request: %+v", err)
		}
		response := append([]byte(nil), request[:tcpHeaderSize]...)
		response = append(response, functionCode, byte(2*len(values)))
		response = append(response, codec.Bytes(values...)...)
		response[4], response[5] = byte((len(response)-6)>>8), byte(len(response)-6)

		if err := packager.Verify(request, response); err != nil {
			t.Fatalf("response does not verify: %v", err)
		}
		pdu, err := packager.Decode(response)
		if err != nil {
			t.Fatalf("error while decoding: %+v", err)
		}
		if got := codec.Words(pdu.Data[1:]); !cmp.Equal(values, got) {
			t.Errorf("invalid values: %s", cmp.Diff(values, got))
		}

		response[1]++
		var ferr *FrameError
		if err := packager.Verify(request, response); !errors.As(err, &ferr) {
			t.Errorf("transaction mismatch not reported as frame error: %v", err)
		}
	})
}
