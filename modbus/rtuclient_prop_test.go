package modbus

import (
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/codec"
)

func TestRTUEncodeDecode(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		packager := &rtuPackager{
			SlaveID: rapid.Byte().Draw(t, "SlaveID"),
		}

		pdu := &ProtocolDataUnit{
			FunctionCode: rapid.Byte().Draw(t, "FunctionCode"),
			Data:         rapid.SliceOfN(rapid.Byte(), 0, rtuMaxSize-4).Draw(t, "Data"),
		}

		raw, err := packager.Encode(pdu)
		if err != nil {
			t.Fatalf("error while encoding: %+v", err)
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

func TestRTUReadResponse(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		slaveID := rapid.Byte().Draw(t, "SlaveID")
		values := rapid.SliceOfN(rapid.Uint16(), 1, 125).Draw(t, "Values")
		functionCode := rapid.SampledFrom([]byte{FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters}).Draw(t, "FunctionCode")

		packager := &rtuPackager{SlaveID: slaveID}
		response, err := packager.Encode(&ProtocolDataUnit{
			FunctionCode: functionCode,
			Data:         dataBlockSuffix(dataBlock(values...)),
		})
		if err != nil {
			t.Fatalf("error while encoding: %+v", err)
		}

		frame, err := readResponse(&chunkReader{data: response}, time.Time{})
		if err != nil {
			t.Fatalf("error while reading: %+v", err)
		}
		pdu, err := packager.Decode(frame)
		if err != nil {
			t.Fatalf("error while decoding: %+v", err)
		}
		if got := codec.Words(pdu.Data[1:]); !cmp.Equal(values, got) {
			t.Errorf("invalid values: %s", cmp.Diff(values, got))
		}
	})
}

// chunkReader hands out its data a few bytes at a time.
type chunkReader struct {
	data []byte
}

func (r *chunkReader) Read(b []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := copy(b, r.data[:min(3, len(r.data))])
	r.data = r.data[n:]
	return n, nil
}
