package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
	}{
		{"get clipboard", GetClipboard()},
		{"set clipboard", SetClipboard("hello, 世界")},
		{"set empty clipboard", SetClipboard("")},
		{"open browser", OpenBrowser("https://example.com")},
		{"start forward", StartPortForward(8080, "localhost", 80)},
		{"stop forward", StopPortForward(8080)},
		{"list forwards", ListPortForwards()},
		{"ping", Ping()},
		{"unknown op", &Request{Op: "launch_rockets"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeRequest(tt.req)
			require.NoError(t, err)

			got, err := DecodeRequest(data)
			require.NoError(t, err)
			assert.Equal(t, tt.req, got)
		})
	}
}

func TestRequestUsesFieldNames(t *testing.T) {
	data, err := EncodeRequest(GetClipboard())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, Unmarshal(data, &raw))
	assert.Equal(t, map[string]any{"op": "get_clipboard"}, raw)
}

func TestEncodeRequestRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
	}{
		{"nil", nil},
		{"no op", &Request{}},
		{"browser without url", &Request{Op: OpOpenBrowser}},
		{"forward without host", &Request{Op: OpStartPortForward, LocalPort: 1, RemotePort: 2}},
		{"forward without ports", &Request{Op: OpStartPortForward, RemoteHost: "h"}},
		{"stop without port", &Request{Op: OpStopPortForward}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeRequest(tt.req)
			assert.Error(t, err)
		})
	}
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	bad := string([]byte{'a', 0xff, 'b'})

	requests := []struct {
		name string
		req  *Request
	}{
		{"content", SetClipboard(bad)},
		{"url", OpenBrowser("https://example.com/" + bad)},
		{"remote host", StartPortForward(8080, bad, 80)},
		{"op", &Request{Op: Operation(bad)}},
	}
	for _, tt := range requests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeRequest(tt.req)
			assert.ErrorIs(t, err, ErrInvalidUTF8)
		})
	}

	responses := []struct {
		name string
		resp Response
	}{
		{"text item", Data(TextItem("ok"), TextItem(bad))},
		{"error message", Errorf("%s", bad)},
		{"error pointer", &ErrorResponse{Message: bad}},
	}
	for _, tt := range responses {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeResponse(tt.resp)
			assert.ErrorIs(t, err, ErrInvalidUTF8)
		})
	}

	// Binary items carry arbitrary bytes.
	_, err := EncodeResponse(Data(BytesItem([]byte(bad))))
	assert.NoError(t, err)
}

func TestDecodeRejectsInvalidUTF8(t *testing.T) {
	bad := string([]byte{0xc3, 0x28})

	req, err := Marshal(map[string]any{"op": "set_clipboard", "content": bad})
	require.NoError(t, err)
	_, err = DecodeRequest(req)
	assert.Error(t, err)

	resp, err := Marshal(map[string]any{"type": "error", "message": bad})
	require.NoError(t, err)
	_, err = DecodeResponse(resp)
	assert.Error(t, err)
}

func TestDecodeErrorsHaveNoPrefix(t *testing.T) {
	unknown, err := Marshal(map[string]any{"type": "maybe"})
	require.NoError(t, err)
	_, err = DecodeResponse(unknown)
	assert.EqualError(t, err, `unknown type "maybe"`)

	badItem, err := Marshal(map[string]any{"type": "data", "items": []any{map[string]any{"kind": "video"}}})
	require.NoError(t, err)
	_, err = DecodeResponse(badItem)
	assert.EqualError(t, err, `item 0: unknown item kind "video"`)

	_, err = DecodeRequest([]byte{0xff})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "failed to decode")
}

func TestDecodeRequestErrors(t *testing.T) {
	_, err := DecodeRequest([]byte("not cbor at all"))
	assert.Error(t, err)

	missing, err := Marshal(map[string]any{"content": "x"})
	require.NoError(t, err)
	_, err = DecodeRequest(missing)
	assert.ErrorIs(t, err, ErrMissingOperation)
}

func TestDecodeRequestIgnoresUnknownFields(t *testing.T) {
	data, err := Marshal(map[string]any{"op": "ping", "future_field": 42})
	require.NoError(t, err)

	req, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, OpPing, req.Op)
}

func TestResponseEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want Response
	}{
		{"success", Success(), SuccessResponse{}},
		{"success pointer", &SuccessResponse{}, SuccessResponse{}},
		{"error", Errorf("unknown operation"), ErrorResponse{Message: "unknown operation"}},
		{"data text", Data(TextItem("hello")), DataResponse{Items: []Item{TextItem("hello")}}},
		{"data mixed", Data(TextItem("a"), BytesItem([]byte{0, 1, 2})), DataResponse{Items: []Item{TextItem("a"), BytesItem([]byte{0, 1, 2})}}},
		{"data empty", Data(), DataResponse{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeResponse(tt.resp)
			require.NoError(t, err)

			got, err := DecodeResponse(data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Type(), got.Type())
		})
	}
}

func TestEncodeResponseErrors(t *testing.T) {
	_, err := EncodeResponse(nil)
	assert.Error(t, err)

	_, err = EncodeResponse(DataResponse{Items: []Item{{Kind: "image"}}})
	assert.Error(t, err)
}

func TestDecodeResponseErrors(t *testing.T) {
	unknown, err := Marshal(map[string]any{"type": "maybe"})
	require.NoError(t, err)

	badItem, err := Marshal(map[string]any{"type": "data", "items": []any{map[string]any{"kind": "video"}}})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte{0xff, 0x00, 0x13}},
		{"empty", nil},
		{"unknown type", unknown},
		{"bad item", badItem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestMatchIsExhaustive(t *testing.T) {
	label := func(r Response) string {
		return Match(r,
			func() string { return "success" },
			func(msg string) string { return "error:" + msg },
			func(items []Item) string { return "data" },
		)
	}

	assert.Equal(t, "success", label(Success()))
	assert.Equal(t, "error:boom", label(Errorf("boom")))
	assert.Equal(t, "data", label(Data(TextItem("x"))))
	assert.Equal(t, "error:ptr", label(&ErrorResponse{Message: "ptr"}))
	assert.Panics(t, func() { label(nil) })
}

func TestExtractors(t *testing.T) {
	texts, err := ExtractTexts(Data(TextItem("hello")))
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, texts)

	texts, err = ExtractTexts(Data(BytesItem([]byte("raw"))))
	require.NoError(t, err)
	assert.Equal(t, []string{"raw"}, texts)

	msg, err := ExtractError(Errorf("unknown operation"))
	require.NoError(t, err)
	assert.Equal(t, "unknown operation", msg)

	_, err = ExtractError(Success())
	assert.ErrorIs(t, err, ErrUnexpectedResponse)

	_, err = ExtractItems(Success())
	assert.ErrorIs(t, err, ErrUnexpectedResponse)

	_, err = ExtractItems(Errorf("denied"))
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "denied", remote.Message)

	assert.NoError(t, ExpectSuccess(Success()))
	assert.ErrorAs(t, ExpectSuccess(Errorf("nope")), &remote)
	assert.ErrorIs(t, ExpectSuccess(Data()), ErrUnexpectedResponse)
}

func TestRequestString(t *testing.T) {
	assert.Equal(t, "get_clipboard", GetClipboard().String())
	assert.Equal(t, "set_clipboard(5 bytes)", SetClipboard("hello").String())
	assert.Equal(t, "start_port_forward(8080->db:5432)", StartPortForward(8080, "db", 5432).String())
}
