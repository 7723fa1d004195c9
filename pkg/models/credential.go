package models

// 流水线需要的凭据标识
const (
	ExplorerKeyID = "ETHERSCAN_API_KEY"
	ModelKeyID    = "DEEPSEEK_API_KEY"
)

// Credential 运行期解析出的凭据，不持久化、不记录日志
type Credential struct {
	ID    string `json:"id"`
	Value string `json:"-"`
}

// String 隐藏凭据值
func (c Credential) String() string {
	if c.Value == "" {
		return c.ID + "=<empty>"
	}
	return c.ID + "=<redacted>"
}
