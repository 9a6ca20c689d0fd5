package fleetsync

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype peers select with
// grpc.CallContentSubtype. Sync messages are JSON documents.
const codecName = "json"

// rawFrame is a sync frame that has not been decoded yet. The codec passes
// it through untouched so a frame that is not a valid Message can be
// rejected without failing the stream.
type rawFrame []byte

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	switch f := v.(type) {
	case rawFrame:
		return f, nil
	case *rawFrame:
		return *f, nil
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if f, ok := v.(*rawFrame); ok {
		*f = append((*f)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
