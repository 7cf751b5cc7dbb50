package gateway

import (
	"fmt"
	"strings"
	"time"
)

// ProcessorType represents the type of payment processor
type ProcessorType string

const (
	ProcessorTypeMock   ProcessorType = "mock"
	ProcessorTypeStripe ProcessorType = "stripe"
)

// Config holds what the factory needs to build a processor and verifier
type Config struct {
	Provider            string
	StripeSecretKey     string
	StripeWebhookSecret string
	MockFailureRate     float64
	WebhookTolerance    time.Duration
}

// NewProcessor creates a payment processor based on the provider
func NewProcessor(cfg *Config) (Processor, error) {
	switch ProcessorType(strings.ToLower(cfg.Provider)) {
	case ProcessorTypeMock, "":
		return NewMockProcessor(&MockProcessorConfig{
			FailureRate: cfg.MockFailureRate,
			AutoConfirm: true,
		}), nil

	case ProcessorTypeStripe:
		if cfg.StripeSecretKey == "" {
			return nil, fmt.Errorf("stripe secret key is required")
		}
		return NewStripeProcessor(&StripeProcessorConfig{SecretKey: cfg.StripeSecretKey})

	default:
		return nil, fmt.Errorf("unsupported payment processor: %s", cfg.Provider)
	}
}

// NewWebhookVerifier creates the verifier for the configured provider. The
// mock processor uses the same signed format so local tooling can exercise
// the real verification path.
func NewWebhookVerifier(cfg *Config) WebhookVerifier {
	return NewStripeWebhookVerifier(cfg.StripeWebhookSecret, cfg.WebhookTolerance)
}
