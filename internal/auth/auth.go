package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrMissingToken       = errors.New("missing api key")
	ErrInvalidCredentials = errors.New("invalid api key")
)

// Mode 表示认证模式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeAPIKey   Mode = "api_key"
)

// Config 描述认证层的配置。
type Config struct {
	Mode    string   `json:"mode"`
	APIKeys []string `json:"api_keys"`
}

// Service 校验调用方携带的 API Key。
type Service struct {
	mode Mode
	keys []string
}

// NewService 创建认证服务。api_key 模式下至少要配置一个密钥。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(cfg.Mode)))
	if mode == "" {
		mode = ModeDisabled
	}
	switch mode {
	case ModeDisabled:
		return &Service{mode: ModeDisabled}, nil
	case ModeAPIKey:
		keys := make([]string, 0, len(cfg.APIKeys))
		for _, key := range cfg.APIKeys {
			if key = strings.TrimSpace(key); key != "" {
				keys = append(keys, key)
			}
		}
		if len(keys) == 0 {
			return nil, errors.New("api_key 模式下必须配置至少一个密钥")
		}
		return &Service{mode: ModeAPIKey, keys: keys}, nil
	default:
		return nil, fmt.Errorf("不支持的认证模式: %s", cfg.Mode)
	}
}

// Enabled 返回认证是否开启。
func (s *Service) Enabled() bool {
	return s != nil && s.mode != ModeDisabled
}

// Authenticate 校验请求携带的凭证。支持 Authorization: Bearer <key>
// 和 X-API-Key 两种携带方式，由调用方取好后传入。
func (s *Service) Authenticate(credential string) error {
	if !s.Enabled() {
		return nil
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ErrMissingToken
	}
	for _, key := range s.keys {
		if subtle.ConstantTimeCompare([]byte(credential), []byte(key)) == 1 {
			return nil
		}
	}
	return ErrInvalidCredentials
}
