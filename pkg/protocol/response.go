package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ResponseType is the wire discriminator of a Response.
type ResponseType string

const (
	TypeSuccess ResponseType = "success"
	TypeError   ResponseType = "error"
	TypeData    ResponseType = "data"
)

// Response is an agent-to-controller envelope: one of SuccessResponse,
// ErrorResponse or DataResponse. The set is closed.
type Response interface {
	// Type returns the wire discriminator.
	Type() ResponseType

	isResponse()
}

// SuccessResponse reports completion with no payload.
type SuccessResponse struct{}

// ErrorResponse reports an application-level failure.
type ErrorResponse struct {
	Message string
}

// DataResponse carries result items.
type DataResponse struct {
	Items []Item
}

func (SuccessResponse) Type() ResponseType { return TypeSuccess }
func (ErrorResponse) Type() ResponseType   { return TypeError }
func (DataResponse) Type() ResponseType    { return TypeData }

func (SuccessResponse) isResponse() {}
func (ErrorResponse) isResponse()   {}
func (DataResponse) isResponse()    {}

// Success returns a success response.
func Success() Response { return SuccessResponse{} }

// Errorf returns an error response with a formatted message.
func Errorf(format string, args ...any) Response {
	return ErrorResponse{Message: fmt.Sprintf(format, args...)}
}

// Data returns a data response.
func Data(items ...Item) Response { return DataResponse{Items: items} }

// Match dispatches on the response variant. Every handler must be non-nil.
// It panics on a nil or foreign Response, which cannot come from Decode.
func Match[T any](r Response, onSuccess func() T, onError func(message string) T, onData func(items []Item) T) T {
	switch v := r.(type) {
	case SuccessResponse:
		return onSuccess()
	case *SuccessResponse:
		return onSuccess()
	case ErrorResponse:
		return onError(v.Message)
	case *ErrorResponse:
		return onError(v.Message)
	case DataResponse:
		return onData(v.Items)
	case *DataResponse:
		return onData(v.Items)
	default:
		panic(fmt.Sprintf("protocol: unmatched response %T", r))
	}
}

// ItemKind is the discriminator of an Item.
type ItemKind string

const (
	ItemText  ItemKind = "text"
	ItemBytes ItemKind = "bytes"
)

// Item is one element of a data response.
type Item struct {
	Kind  ItemKind `cbor:"kind"`
	Text  string   `cbor:"text,omitempty"`
	Bytes []byte   `cbor:"bytes,omitempty"`
}

// TextItem builds a text item.
func TextItem(s string) Item { return Item{Kind: ItemText, Text: s} }

// BytesItem builds a binary item.
func BytesItem(b []byte) Item { return Item{Kind: ItemBytes, Bytes: b} }

// String returns the item as text. Binary items are interpreted as UTF-8.
func (i Item) String() string {
	if i.Kind == ItemBytes {
		return string(i.Bytes)
	}
	return i.Text
}

func (i Item) validate() error {
	switch i.Kind {
	case ItemText, ItemBytes:
	default:
		return fmt.Errorf("unknown item kind %q", i.Kind)
	}
	if !utf8.ValidString(i.Text) {
		return fmt.Errorf("text: %w", ErrInvalidUTF8)
	}
	return nil
}

// ErrUnexpectedResponse is returned when a response has the wrong variant.
var ErrUnexpectedResponse = errors.New("unexpected response type")

// RemoteError is an ErrorResponse surfaced as a Go error.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}

// ExpectSuccess returns nil for a success response and an error otherwise.
func ExpectSuccess(r Response) error {
	return Match(r,
		func() error { return nil },
		func(msg string) error { return &RemoteError{Message: msg} },
		func([]Item) error { return fmt.Errorf("%w: got data, want success", ErrUnexpectedResponse) },
	)
}

// ExtractItems returns the items of a data response.
func ExtractItems(r Response) ([]Item, error) {
	type result struct {
		items []Item
		err   error
	}
	res := Match(r,
		func() result {
			return result{err: fmt.Errorf("%w: got success, want data", ErrUnexpectedResponse)}
		},
		func(msg string) result { return result{err: &RemoteError{Message: msg}} },
		func(items []Item) result { return result{items: items} },
	)
	return res.items, res.err
}

// ExtractTexts returns the items of a data response as strings.
func ExtractTexts(r Response) ([]string, error) {
	items, err := ExtractItems(r)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.String()
	}
	return texts, nil
}

// ExtractError returns the message of an error response.
func ExtractError(r Response) (string, error) {
	type result struct {
		msg string
		err error
	}
	res := Match(r,
		func() result { return result{err: fmt.Errorf("%w: got success, want error", ErrUnexpectedResponse)} },
		func(msg string) result { return result{msg: msg} },
		func([]Item) result { return result{err: fmt.Errorf("%w: got data, want error", ErrUnexpectedResponse)} },
	)
	return res.msg, res.err
}
