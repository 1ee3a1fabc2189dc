package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	xerrors "AuraMCP/internal/errors"
)

// ErrorBody 是响应信封里的错误描述。
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Metadata 是响应信封的元信息。
type Metadata struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id"`
}

// Envelope 是工具调用的统一响应结构。
type Envelope struct {
	Success  bool       `json:"success"`
	Data     any        `json:"data,omitempty"`
	Error    *ErrorBody `json:"error,omitempty"`
	Metadata Metadata   `json:"metadata"`
}

func newMetadata() Metadata {
	return Metadata{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: uuid.NewString(),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeSuccess 写入成功信封。
func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{
		Success:  true,
		Data:     data,
		Metadata: newMetadata(),
	})
}

// writeError 写入失败信封。领域错误保持 HTTP 200，
// 由 success 字段区分；仅传输层问题使用非 200 状态码。
func writeError(w http.ResponseWriter, status int, err error) {
	body := &ErrorBody{
		Code:    string(xerrors.CodeOf(err)),
		Message: err.Error(),
		Details: xerrors.DetailsOf(err),
	}
	if typed, ok := xerrors.From(err); ok {
		body.Message = typed.Message()
	}
	writeJSON(w, status, Envelope{
		Success:  false,
		Error:    body,
		Metadata: newMetadata(),
	})
}
