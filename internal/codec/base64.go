// Package codec 提供请求体的 Base64 编解码，不依赖宿主环境的编码原语
package codec

import (
	"fmt"
	"strings"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

const padding = '='

var reverse [256]int8

func init() {
	for i := range reverse {
		reverse[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		reverse[alphabet[i]] = int8(i)
	}
}

// Encode 标准 Base64 编码（带 = 填充）
func Encode(text string) string {
	src := []byte(text)
	if len(src) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.Grow((len(src) + 2) / 3 * 4)

	for i := 0; i < len(src); i += 3 {
		remain := len(src) - i

		var group uint32
		group = uint32(src[i]) << 16
		if remain > 1 {
			group |= uint32(src[i+1]) << 8
		}
		if remain > 2 {
			group |= uint32(src[i+2])
		}

		sb.WriteByte(alphabet[group>>18&0x3F])
		sb.WriteByte(alphabet[group>>12&0x3F])
		if remain > 1 {
			sb.WriteByte(alphabet[group>>6&0x3F])
		} else {
			sb.WriteByte(padding)
		}
		if remain > 2 {
			sb.WriteByte(alphabet[group&0x3F])
		} else {
			sb.WriteByte(padding)
		}
	}

	return sb.String()
}

// Decode 解码 Encode 的输出
func Decode(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	if len(encoded)%4 != 0 {
		return "", fmt.Errorf("base64长度无效: %d", len(encoded))
	}

	out := make([]byte, 0, len(encoded)/4*3)
	for i := 0; i < len(encoded); i += 4 {
		chunk := encoded[i : i+4]
		last := i+4 == len(encoded)

		pad := 0
		if chunk[3] == padding {
			pad++
			if chunk[2] == padding {
				pad++
			}
		}
		if pad > 0 && !last {
			return "", fmt.Errorf("填充字符位置无效: 偏移 %d", i)
		}

		var group uint32
		for j := 0; j < 4-pad; j++ {
			v := reverse[chunk[j]]
			if v < 0 {
				return "", fmt.Errorf("非法字符 %q: 偏移 %d", chunk[j], i+j)
			}
			group |= uint32(v) << (18 - 6*uint(j))
		}

		out = append(out, byte(group>>16))
		if pad < 2 {
			out = append(out, byte(group>>8))
		}
		if pad < 1 {
			out = append(out, byte(group))
		}
	}

	return string(out), nil
}
