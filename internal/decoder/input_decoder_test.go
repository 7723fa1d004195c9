package decoder

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskoracle/internal/explorer"
	"riskoracle/internal/secrets"
	"riskoracle/internal/transport/transporttest"
)

const tokenABI = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"pause","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

const (
	contractAddress = "0x1f9840a85d5af5bf1d1762f925bdaddc4201f984"
	recipient       = "0x1111111111111111111111111111111111111111"
	amountWord      = "00000000000000000000000000000000000000000000000000000000000003e8"
	recipientWord   = "0000000000000000000000001111111111111111111111111111111111111111"
	transferData    = "0xa9059cbb" + recipientWord + amountWord
)

type countingSource struct {
	calls int32
	inner ABISource
}

func (s *countingSource) ABI(ctx context.Context, addr string) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.inner.ABI(ctx, addr)
}

func TestDecodeWithABI(t *testing.T) {
	parsed, err := ParseABI(tokenABI)
	require.NoError(t, err)

	call, err := DecodeWithABI(parsed, transferData)
	require.NoError(t, err)

	assert.True(t, call.FromABI)
	assert.Equal(t, "0xa9059cbb", call.Selector)
	assert.Equal(t, "transfer", call.FunctionName)
	assert.Equal(t, "transfer(address,uint256)", call.Signature)
	assert.Equal(t, []Argument{
		{Name: "to", Type: "address", Value: recipient},
		{Name: "amount", Type: "uint256", Value: "1000"},
	}, call.Arguments)
	assert.Equal(t, []string{"to=" + recipient, "amount=1000"}, call.ArgumentStrings())
}

func TestDecodeWithABI_NoArguments(t *testing.T) {
	parsed, err := ParseABI(tokenABI)
	require.NoError(t, err)

	// 0x 前缀可省略
	call, err := DecodeWithABI(parsed, "8456cb59")
	require.NoError(t, err)
	assert.Equal(t, "pause", call.FunctionName)
	assert.Empty(t, call.Arguments)
}

func TestDecodeWithABI_UnknownSelector(t *testing.T) {
	parsed, err := ParseABI(tokenABI)
	require.NoError(t, err)

	call, err := DecodeWithABI(parsed, "0x095ea7b3"+recipientWord+amountWord)
	require.NoError(t, err)

	assert.False(t, call.FromABI)
	assert.Equal(t, "approve", call.FunctionName)
	assert.Equal(t, "approve(address,uint256)", call.Signature)
	require.Len(t, call.Arguments, 2)
	assert.Equal(t, Argument{Name: "param_0", Type: "address", Value: recipient}, call.Arguments[0])
	assert.Equal(t, Argument{Name: "param_1", Type: "bytes32", Value: "0x" + amountWord}, call.Arguments[1])

	unknown, err := DecodeWithABI(parsed, "0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, "unknown", unknown.FunctionName)
	assert.Empty(t, unknown.Arguments)
}

func TestDecodeWithABI_Errors(t *testing.T) {
	parsed, err := ParseABI(tokenABI)
	require.NoError(t, err)

	tests := []struct {
		name string
		data string
	}{
		{"not hex", "0xzzzz"},
		{"odd length", "0xa9059cb"},
		{"too short", "0xa905"},
		{"empty", ""},
		{"truncated arguments", "0xa9059cbb" + recipientWord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeWithABI(parsed, tt.data)
			assert.Error(t, err)
		})
	}
}

func TestParseABI_Invalid(t *testing.T) {
	_, err := ParseABI("Contract source code not verified")
	assert.Error(t, err)
}

func TestInputDecoder_CachesABI(t *testing.T) {
	source := &countingSource{inner: StaticSource{contractAddress: tokenABI}}
	d := NewInputDecoder(source, 0, logrus.New())

	for i := 0; i < 3; i++ {
		call, err := d.Decode(context.Background(), contractAddress, transferData)
		require.NoError(t, err)
		assert.Equal(t, "transfer", call.FunctionName)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&source.calls))
	assert.Equal(t, 1, d.GetCacheSize())

	d.ClearCache()
	assert.Equal(t, 0, d.GetCacheSize())
}

func TestInputDecoder_Eviction(t *testing.T) {
	source := StaticSource{}
	for _, suffix := range []string{"1", "2", "3", "4", "5"} {
		source["0x"+strings.Repeat(suffix, 40)] = tokenABI
	}
	d := NewInputDecoder(source, 4, logrus.New())

	for addr := range source {
		_, err := d.Decode(context.Background(), addr, transferData)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, d.GetCacheSize(), 4)
}

func TestInputDecoder_SourceError(t *testing.T) {
	d := NewInputDecoder(StaticSource{}, 0, logrus.New())
	_, err := d.Decode(context.Background(), contractAddress, transferData)
	assert.Error(t, err)
	assert.Equal(t, 0, d.GetCacheSize())
}

func explorerBody(t *testing.T, status, message, result string) string {
	t.Helper()
	body, err := json.Marshal(map[string]string{"status": status, "message": message, "result": result})
	require.NoError(t, err)
	return string(body)
}

func TestExplorerSource(t *testing.T) {
	recorder := transporttest.Static(200, explorerBody(t, "1", "OK", tokenABI))
	source := &ExplorerSource{
		Resolver: secrets.StaticStore{"ETHERSCAN_API_KEY": "explorer-key"},
		Step:     explorer.NewStep(explorer.Config{BaseURL: "https://api.etherscan.io"}, recorder, logrus.New()),
		ChainID:  "11155111",
	}

	text, err := source.ABI(context.Background(), contractAddress)
	require.NoError(t, err)
	assert.Equal(t, tokenABI, text)

	requests := recorder.Requests()
	require.Len(t, requests, 1)
	assert.Contains(t, requests[0].URL, "chainid=11155111")
	assert.Contains(t, requests[0].URL, "apikey=explorer-key")
}

func TestExplorerSource_Failures(t *testing.T) {
	step := func(status int, body string) *explorer.Step {
		return explorer.NewStep(explorer.Config{BaseURL: "https://api.etherscan.io"},
			transporttest.Static(status, body), logrus.New())
	}

	rejected := &ExplorerSource{
		Resolver: secrets.StaticStore{"ETHERSCAN_API_KEY": "k"},
		Step:     step(200, explorerBody(t, "0", "NOTOK", "Contract source code not verified")),
		ChainID:  "1",
	}
	_, err := rejected.ABI(context.Background(), contractAddress)
	assert.Error(t, err)

	malformed := &ExplorerSource{
		Resolver: secrets.StaticStore{"ETHERSCAN_API_KEY": "k"},
		Step:     step(200, "<html>"),
		ChainID:  "1",
	}
	_, err = malformed.ABI(context.Background(), contractAddress)
	assert.Error(t, err)

	noKey := &ExplorerSource{
		Resolver: secrets.StaticStore{},
		Step:     step(200, "{}"),
		ChainID:  "1",
	}
	_, err = noKey.ABI(context.Background(), contractAddress)
	assert.True(t, secrets.IsNotFound(err))
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		value interface{}
		want  string
	}{
		{common.HexToAddress(recipient), recipient},
		{big.NewInt(42), "42"},
		{[]byte{0xde, 0xad}, "0xdead"},
		{[32]byte{1}, "0x01" + strings.Repeat("00", 31)},
		{[4]byte{0xa9, 0x05, 0x9c, 0xbb}, "0xa9059cbb"},
		{true, "true"},
		{"hello", "hello"},
		{[]common.Address{common.HexToAddress(recipient)}, "[" + recipient + "]"},
		{[]*big.Int{big.NewInt(1), big.NewInt(2)}, "[1,2]"},
		{uint8(7), "7"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.value))
	}
}
