package channel

import (
	"context"
	"time"

	"github.com/besties-app/safecheck/internal/models"
)

type RetryConfig struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:     3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

// SendWithRetry оборачивает одну попытку доставки ограниченным ретраем с
// экспоненциальной паузой. Постоянные ошибки не ретраятся.
func SendWithRetry(ctx context.Context, ch Channel, c models.Contact, msg Message, cfg RetryConfig) (string, error) {
	if cfg.Attempts <= 0 {
		cfg = DefaultRetryConfig()
	}

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		id, err := ch.Send(ctx, c, msg)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == cfg.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return "", lastErr
}
