// Package assistant streams replies from a generative language model.
package assistant

import (
	"context"
	"errors"
)

// ErrMissingAPIKey is returned on first use when no API key is configured.
var ErrMissingAPIKey = errors.New("assistant api key is missing")

// Gateway produces a reply to a prompt as an ordered sequence of text
// fragments. onFragment is called on the caller's goroutine, once per
// non-empty fragment, before StreamReply returns.
type Gateway interface {
	StreamReply(ctx context.Context, prompt string, onFragment func(string)) error
}

// Resetter is implemented by gateways that keep conversation history.
type Resetter interface {
	Reset()
}

// SystemInstruction is sent with every request.
const SystemInstruction = "Bạn là một trợ lý AI hữu ích, chuyên nghiệp trong môi trường doanh nghiệp. " +
	"Hãy trả lời ngắn gọn, súc tích và hỗ trợ người dùng bằng Tiếng Việt."
