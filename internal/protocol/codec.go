package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// WebSocket subprotocols, one per codec.
const (
	SubprotocolJSON  = "bookstream.json"
	SubprotocolProto = "bookstream.proto"
)

// ErrMalformed marks an envelope that could not be decoded.
var ErrMalformed = errors.New("malformed envelope")

// Codec turns envelopes into frames and back.
type Codec interface {
	// Name is the subprotocol negotiated for this codec.
	Name() string
	// Binary reports whether frames are binary rather than text.
	Binary() bool
	EncodeRequest(Request) ([]byte, error)
	DecodeRequest([]byte) (Request, error)
	EncodeResponse(Response) ([]byte, error)
	DecodeResponse([]byte) (Response, error)
}

// Subprotocols lists the supported subprotocols in server preference order.
func Subprotocols() []string {
	return []string{SubprotocolJSON, SubprotocolProto}
}

// CodecFor returns the codec for a negotiated subprotocol. An empty or unknown
// name falls back to JSON.
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolProto {
		return ProtoCodec{}
	}
	return JSONCodec{}
}

// CodecByName maps a configuration name ("json" or "proto") onto a codec.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "proto":
		return ProtoCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSONCodec encodes envelopes as JSON text frames with snake_case field names.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return SubprotocolJSON }

// Binary implements Codec.
func (JSONCodec) Binary() bool { return false }

// EncodeRequest implements Codec.
func (JSONCodec) EncodeRequest(r Request) ([]byte, error) { return json.Marshal(r) }

// EncodeResponse implements Codec.
func (JSONCodec) EncodeResponse(r Response) ([]byte, error) { return json.Marshal(r) }

// DecodeRequest implements Codec.
func (JSONCodec) DecodeRequest(data []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r, nil
}

// DecodeResponse implements Codec.
func (JSONCodec) DecodeResponse(data []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r, nil
}
