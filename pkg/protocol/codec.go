package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
)

// encMode produces deterministic CBOR for envelopes.
var encMode cbor.EncMode

// decMode tolerates unknown fields so newer peers can add parameters.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value with the envelope encoder.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes envelope bytes into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeRequest encodes a request.
func EncodeRequest(req *Request) ([]byte, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return Marshal(req)
}

// DecodeRequest decodes a request. Requests for unknown operations decode
// successfully; missing required parameters do not. Errors carry no
// prefix; the channel wraps them in a SerializationError.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return &req, nil
}

// wireResponse is the flattened wire form of all Response variants.
type wireResponse struct {
	Type    ResponseType `cbor:"type"`
	Message string       `cbor:"message,omitempty"`
	Items   []Item       `cbor:"items,omitempty"`
}

// EncodeResponse encodes a response. Text must be valid UTF-8.
func EncodeResponse(resp Response) ([]byte, error) {
	var w wireResponse
	switch v := resp.(type) {
	case SuccessResponse, *SuccessResponse:
		w.Type = TypeSuccess
	case ErrorResponse:
		w = wireResponse{Type: TypeError, Message: v.Message}
	case *ErrorResponse:
		w = wireResponse{Type: TypeError, Message: v.Message}
	case DataResponse:
		w = wireResponse{Type: TypeData, Items: v.Items}
	case *DataResponse:
		w = wireResponse{Type: TypeData, Items: v.Items}
	default:
		return nil, fmt.Errorf("unsupported response %T", resp)
	}
	if !utf8.ValidString(w.Message) {
		return nil, fmt.Errorf("error message: %w", ErrInvalidUTF8)
	}
	for i, item := range w.Items {
		if err := item.validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}
	return Marshal(w)
}

// DecodeResponse decodes a response into its variant. Like DecodeRequest
// it leaves the prefix to the channel.
func DecodeResponse(data []byte) (Response, error) {
	var w wireResponse
	if err := Unmarshal(data, &w); err != nil {
		return nil, err
	}
	switch w.Type {
	case TypeSuccess:
		return SuccessResponse{}, nil
	case TypeError:
		return ErrorResponse{Message: w.Message}, nil
	case TypeData:
		for i, item := range w.Items {
			if err := item.validate(); err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
		}
		return DataResponse{Items: w.Items}, nil
	default:
		return nil, fmt.Errorf("unknown type %q", w.Type)
	}
}
