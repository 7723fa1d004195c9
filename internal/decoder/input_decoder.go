// Package decoder 按合约 ABI 解码交易 call data
package decoder

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"riskoracle/internal/errors"
)

// DefaultCacheSize 已解析ABI的缓存上限
const DefaultCacheSize = 256

// ABISource 按合约地址提供ABI文本
type ABISource interface {
	ABI(ctx context.Context, contractAddress string) (string, error)
}

// Argument 单个解码参数
type Argument struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// DecodedCall 解码结果
type DecodedCall struct {
	Selector     string     `json:"selector"`
	FunctionName string     `json:"function_name"`
	Signature    string     `json:"signature"`
	Arguments    []Argument `json:"arguments"`
	// FromABI 为 false 表示ABI中没有该选择器，只按常见签名表猜测
	FromABI bool `json:"from_abi"`
}

// ArgumentStrings 参数的 name=value 形式
func (d *DecodedCall) ArgumentStrings() []string {
	out := make([]string, 0, len(d.Arguments))
	for _, arg := range d.Arguments {
		if arg.Name == "" {
			out = append(out, arg.Value)
			continue
		}
		out = append(out, fmt.Sprintf("%s=%s", arg.Name, arg.Value))
	}
	return out
}

// 常见方法签名，ABI缺失该选择器时兜底
var commonMethods = map[string]string{
	"0xa9059cbb": "transfer(address,uint256)",
	"0x095ea7b3": "approve(address,uint256)",
	"0x23b872dd": "transferFrom(address,address,uint256)",
	"0x70a08231": "balanceOf(address)",
	"0xdd62ed3e": "allowance(address,address)",
	"0x06fdde03": "name()",
	"0x95d89b41": "symbol()",
	"0x313ce567": "decimals()",
	"0x18160ddd": "totalSupply()",
	"0x40c10f19": "mint(address,uint256)",
	"0x42966c68": "burn(uint256)",
	"0x8da5cb5b": "owner()",
	"0xf2fde38b": "transferOwnership(address)",
	"0x715018a6": "renounceOwnership()",
	"0x8456cb59": "pause()",
	"0x3f4ba83a": "unpause()",
}

// InputDecoder 输入数据解码器
type InputDecoder struct {
	logger    *logrus.Logger
	source    ABISource
	cacheSize int

	mu    sync.Mutex
	cache map[string]*abi.ABI // 合约地址 -> 已解析ABI
}

// NewInputDecoder 创建新的输入解码器
func NewInputDecoder(source ABISource, cacheSize int, logger *logrus.Logger) *InputDecoder {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &InputDecoder{
		logger:    logger,
		source:    source,
		cacheSize: cacheSize,
		cache:     make(map[string]*abi.ABI),
	}
}

// Decode 拉取合约ABI并解码 call data
func (d *InputDecoder) Decode(ctx context.Context, contractAddress, callData string) (*DecodedCall, error) {
	parsed, err := d.contractABI(ctx, contractAddress)
	if err != nil {
		return nil, err
	}
	return DecodeWithABI(parsed, callData)
}

func (d *InputDecoder) contractABI(ctx context.Context, contractAddress string) (*abi.ABI, error) {
	key := strings.ToLower(contractAddress)

	d.mu.Lock()
	cached, ok := d.cache[key]
	d.mu.Unlock()
	if ok {
		return cached, nil
	}

	text, err := d.source.ABI(ctx, contractAddress)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseABI(text)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if len(d.cache) >= d.cacheSize {
		d.evictCacheLocked()
	}
	d.cache[key] = parsed
	d.mu.Unlock()

	d.logger.WithField("contract_address", contractAddress).Debug("ABI已缓存")
	return parsed, nil
}

// evictCacheLocked 清理一半缓存
func (d *InputDecoder) evictCacheLocked() {
	target := d.cacheSize / 2
	for key := range d.cache {
		if len(d.cache) <= target {
			break
		}
		delete(d.cache, key)
	}
	d.logger.Debugf("ABI缓存清理完成，剩余 %d 项", len(d.cache))
}

// ClearCache 清理缓存
func (d *InputDecoder) ClearCache() {
	d.mu.Lock()
	d.cache = make(map[string]*abi.ABI)
	d.mu.Unlock()
}

// GetCacheSize 获取缓存大小
func (d *InputDecoder) GetCacheSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}

// ParseABI 解析ABI JSON文本
func ParseABI(text string) (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(text))
	if err != nil {
		return nil, errors.ErrMalformedUpstream.Wrap(err).WithComponent("decoder")
	}
	return &parsed, nil
}

// DecodeWithABI 用给定ABI解码 call data
func DecodeWithABI(parsed *abi.ABI, callData string) (*DecodedCall, error) {
	data, err := hexutil.Decode(normalizeHex(callData))
	if err != nil {
		return nil, errors.ErrDataValidation.Newf("call data 不是十六进制: %v", err).WithComponent("decoder")
	}
	if len(data) < 4 {
		return nil, errors.ErrDataValidation.Newf("call data 不足4字节").WithComponent("decoder")
	}

	selector := hexutil.Encode(data[:4])
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return decodeUnknown(selector, data[4:]), nil
	}

	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, errors.ErrDataValidation.Newf("参数解码失败 %s: %v", method.Sig, err).WithComponent("decoder")
	}

	args := make([]Argument, len(values))
	for i, value := range values {
		input := method.Inputs[i]
		args[i] = Argument{Name: input.Name, Type: input.Type.String(), Value: FormatValue(value)}
	}

	return &DecodedCall{
		Selector:     selector,
		FunctionName: method.RawName,
		Signature:    method.Sig,
		Arguments:    args,
		FromABI:      true,
	}, nil
}

// decodeUnknown 按32字节切分参数，地址形态的字按地址展示
func decodeUnknown(selector string, params []byte) *DecodedCall {
	call := &DecodedCall{Selector: selector, FunctionName: "unknown", Arguments: []Argument{}}
	if sig, ok := commonMethods[selector]; ok {
		call.Signature = sig
		call.FunctionName = sig[:strings.Index(sig, "(")]
	}

	for i := 0; i+32 <= len(params) && i/32 < 10; i += 32 { // 最多展示10个参数
		word := params[i : i+32]
		arg := Argument{Name: fmt.Sprintf("param_%d", i/32)}
		if isAddressWord(word) {
			arg.Type = "address"
			arg.Value = common.BytesToAddress(word[12:]).Hex()
		} else {
			arg.Type = "bytes32"
			arg.Value = hexutil.Encode(word)
		}
		call.Arguments = append(call.Arguments, arg)
	}
	return call
}

func isAddressWord(word []byte) bool {
	for _, b := range word[:12] {
		if b != 0 {
			return false
		}
	}
	// 小整数的高位同样为零，按数值处理
	return new(big.Int).SetBytes(word[12:]).BitLen() > 64
}

func normalizeHex(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return "0x" + s[2:]
}

// FormatValue 把 abi 解码值转成稳定的字符串
func FormatValue(value interface{}) string {
	switch v := value.(type) {
	case common.Address:
		return v.Hex()
	case *big.Int:
		return v.String()
	case []byte:
		return hexutil.Encode(v)
	case [32]byte:
		return hexutil.Encode(v[:])
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	case []common.Address:
		parts := make([]string, len(v))
		for i, a := range v {
			parts[i] = a.Hex()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case []*big.Int:
		parts := make([]string, len(v))
		for i, n := range v {
			parts[i] = n.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case fmt.Stringer:
		return v.String()
	default:
		if b, ok := asFixedBytes(v); ok {
			return "0x" + hex.EncodeToString(b)
		}
		return fmt.Sprintf("%v", v)
	}
}

func asFixedBytes(v interface{}) ([]byte, bool) {
	switch b := v.(type) {
	case [4]byte:
		return b[:], true
	case [8]byte:
		return b[:], true
	case [16]byte:
		return b[:], true
	case [20]byte:
		return b[:], true
	}
	return nil, false
}
