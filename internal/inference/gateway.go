package inference

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/malakmagdy1/RealStateFlutter/internal/models"
)

var (
	// ErrProviderUnavailable covers transport failures, timeouts and 5xx answers.
	ErrProviderUnavailable = errors.New("inference provider unavailable")
	// ErrProviderRejected covers requests the provider refused: bad request,
	// auth, quota, or a blocked prompt.
	ErrProviderRejected = errors.New("inference provider rejected the request")
	// ErrProviderMalformedResponse covers undecodable bodies and answers with no text.
	ErrProviderMalformedResponse = errors.New("inference provider returned a malformed response")
)

// Request is a single, non-streaming generation call.
type Request struct {
	System          string
	Turns           []models.Turn
	MaxOutputTokens int
	Temperature     float32
}

// Gateway sends one request to a generative-language provider and returns the
// generated text.
type Gateway interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Options are shared by all gateway implementations.
type Options struct {
	Model           string
	Timeout         time.Duration
	MaxOutputTokens int
	Temperature     float32
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = 2000
	}
	if o.Temperature <= 0 {
		o.Temperature = 0.7
	}
	return o
}

func (o Options) resolve(req Request) (maxTokens int, temperature float32) {
	maxTokens, temperature = req.MaxOutputTokens, req.Temperature
	if maxTokens <= 0 {
		maxTokens = o.MaxOutputTokens
	}
	if temperature <= 0 {
		temperature = o.Temperature
	}
	return maxTokens, temperature
}

// classifyStatus maps an HTTP status from the provider onto the local taxonomy.
func classifyStatus(code int) error {
	switch {
	case code == 408 || code >= 500:
		return ErrProviderUnavailable
	case code >= 400:
		return ErrProviderRejected
	default:
		return ErrProviderMalformedResponse
	}
}

// isTransport reports timeouts, cancellations and network faults.
func isTransport(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
