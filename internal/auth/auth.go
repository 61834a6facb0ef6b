// Package auth validates and bootstraps account credentials.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Joseda-hg/notegrid/internal/remote"
)

var ErrInvalidCredential = errors.New("invalid code format")

var validate = validator.New()

// Registry is the part of the remote API used to bootstrap an identity.
type Registry interface {
	Exists(ctx context.Context, credential string) (bool, error)
	Register(ctx context.Context, credential string) error
}

// Generate returns a fresh credential.
func Generate() string {
	return uuid.NewString()
}

// Normalize trims code and checks it is an 8-4-4-4-12 hex string, ignoring
// case.
func Normalize(code string) (string, error) {
	trimmed := strings.TrimSpace(code)
	if err := validate.Var(strings.ToLower(trimmed), "required,uuid"); err != nil {
		return "", ErrInvalidCredential
	}
	return trimmed, nil
}

type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

type Bootstrapper struct {
	registry Registry
	retry    RetryConfig
	log      *zap.SugaredLogger
}

func NewBootstrapper(registry Registry, retry RetryConfig, log *zap.SugaredLogger) *Bootstrapper {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bootstrapper{registry: registry, retry: retry, log: log}
}

// Login validates code and registers it with the server if it is unknown
// there. It returns the credential to store.
func (b *Bootstrapper) Login(ctx context.Context, code string) (string, error) {
	credential, err := Normalize(code)
	if err != nil {
		return "", err
	}

	err = b.withRetry(ctx, func() error {
		exists, err := b.registry.Exists(ctx, credential)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		b.log.Infow("registering unknown code")
		return b.registry.Register(ctx, credential)
	})
	if err != nil {
		return "", err
	}
	return credential, nil
}

// CreateNew generates and registers a new credential.
func (b *Bootstrapper) CreateNew(ctx context.Context) (string, error) {
	credential := Generate()
	if err := b.withRetry(ctx, func() error {
		return b.registry.Register(ctx, credential)
	}); err != nil {
		return "", err
	}
	return credential, nil
}

func (b *Bootstrapper) withRetry(ctx context.Context, operation func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.retry.InitialInterval
	policy.MaxInterval = b.retry.MaxInterval

	var bo backoff.BackOff = policy
	if b.retry.MaxRetries > 0 {
		bo = backoff.WithMaxRetries(policy, uint64(b.retry.MaxRetries))
	}

	return backoff.Retry(func() error {
		err := operation()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			b.log.Warnw("bootstrap attempt failed", "error", err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

func retryable(err error) bool {
	var netErr *remote.NetworkError
	if errors.As(err, &netErr) {
		return netErr.StatusCode == 0 || netErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}
