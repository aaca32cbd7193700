package decode_test

import (
	"io"
	"strings"
	"testing"

	"github.com/cexll/schemafetch-go/pkg/decode"
	"github.com/stretchr/testify/require"
)

type fakeResponse struct {
	status  int
	headers map[string]string
	body    string
}

func (f *fakeResponse) StatusCode() int           { return f.status }
func (f *fakeResponse) Header(name string) string { return f.headers[name] }
func (f *fakeResponse) Body() io.Reader           { return strings.NewReader(f.body) }

func TestDecode204ReturnsNil(t *testing.T) {
	v, err := decode.Decode(&fakeResponse{status: 204, body: "ignored"})
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestDecode205ReturnsNil(t *testing.T) {
	v, err := decode.Decode(&fakeResponse{status: 205})
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestDecodeEmptyBodyReturnsNil(t *testing.T) {
	v, err := decode.Decode(&fakeResponse{status: 200, headers: map[string]string{"Content-Type": "application/json"}})
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestDecodeParsesJSON(t *testing.T) {
	v, err := decode.Decode(&fakeResponse{
		status:  200,
		headers: map[string]string{"Content-Type": "application/json; charset=utf-8"},
		body:    `{"foo":"bar"}`,
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"foo": "bar"}, v)
}

func TestDecodeParsesPlusJSONSuffix(t *testing.T) {
	v, err := decode.Decode(&fakeResponse{
		status:  200,
		headers: map[string]string{"Content-Type": "application/vnd.api+json"},
		body:    `[1,2,3]`,
	})
	require.NoError(t, err)
	require.Equal(t, []any{1.0, 2.0, 3.0}, v)
}

func TestDecodeReturnsRawTextForNonJSON(t *testing.T) {
	v, err := decode.Decode(&fakeResponse{
		status:  200,
		headers: map[string]string{"Content-Type": "text/plain"},
		body:    "hello world",
	})
	require.NoError(t, err)
	require.Equal(t, "hello world", v)
}

func TestDecodeInvalidJSONErrors(t *testing.T) {
	_, err := decode.Decode(&fakeResponse{
		status:  200,
		headers: map[string]string{"Content-Type": "application/json"},
		body:    "{not json",
	})
	require.Error(t, err)
}
