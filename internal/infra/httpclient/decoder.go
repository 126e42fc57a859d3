package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"director/internal/resilience/retry"
)

// ResponseDecoder turns a fully read response into a value.
type ResponseDecoder interface {
	Decode(ctx context.Context, resp *http.Response, body []byte) (any, error)
}

// DecoderFunc adapts a function to ResponseDecoder.
type DecoderFunc func(ctx context.Context, resp *http.Response, body []byte) (any, error)

// Decode calls f.
func (f DecoderFunc) Decode(ctx context.Context, resp *http.Response, body []byte) (any, error) {
	return f(ctx, resp, body)
}

// StatusError builds the error for a non-2xx response. It is a
// *retry.HTTPError so callers can classify it with retry.IsRetryable.
func StatusError(resp *http.Response, body []byte) error {
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &retry.HTTPError{StatusCode: resp.StatusCode, Message: msg}
}

// JSON decodes a 2xx JSON body into a new T and returns it as *T.
// Other statuses yield StatusError.
func JSON[T any]() ResponseDecoder {
	return DecoderFunc(func(ctx context.Context, resp *http.Response, body []byte) (any, error) {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, StatusError(resp, body)
		}
		out := new(T)
		if len(body) == 0 {
			return out, nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return out, nil
	})
}

// Raw returns the body unchanged for 2xx responses.
func Raw() ResponseDecoder {
	return DecoderFunc(func(ctx context.Context, resp *http.Response, body []byte) (any, error) {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, StatusError(resp, body)
		}
		return body, nil
	})
}
