package worker

import (
	"testing"
	"time"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/infra"

	"github.com/stretchr/testify/assert"
)

func TestDelayExponentialWithCap(t *testing.T) {
	p := RetryPolicy{Base: 30 * time.Second, Cap: 30 * time.Minute}

	assert.Equal(t, 30*time.Second, p.Delay(0))
	assert.Equal(t, 60*time.Second, p.Delay(1))
	assert.Equal(t, 120*time.Second, p.Delay(2))
	assert.Equal(t, 16*time.Minute, p.Delay(5))
	// 30s * 2^6 = 32m — capped.
	assert.Equal(t, 30*time.Minute, p.Delay(6))
	assert.Equal(t, 30*time.Minute, p.Delay(20))
	assert.Equal(t, 30*time.Second, p.Delay(-1))
}

func TestDecideValidationIsTerminal(t *testing.T) {
	p := DefaultRetryPolicy()
	gerr := &infra.GatewayError{Kind: infra.KindValidation, Code: "400", Message: "missing field"}

	d := p.Decide(gerr, 0, 3, time.Now())
	assert.True(t, d.Terminal, "validation rejections must never be retried")
}

func TestDecideInternalIsTerminal(t *testing.T) {
	p := DefaultRetryPolicy()
	gerr := &infra.GatewayError{Kind: infra.KindInternal, Message: "payload compilation failed"}

	d := p.Decide(gerr, 0, 3, time.Now())
	assert.True(t, d.Terminal, "a payload we cannot build will not improve with retries")
}

func TestDecideTransientSchedulesRetry(t *testing.T) {
	p := RetryPolicy{Base: 30 * time.Second, Cap: 30 * time.Minute}
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	gerr := &infra.GatewayError{Kind: infra.KindTransient, Code: "503"}

	d := p.Decide(gerr, 1, 3, now)
	assert.False(t, d.Terminal)
	assert.Equal(t, now.Add(60*time.Second), d.NextRetryAt)
}

func TestDecideExhaustedBudgetIsTerminal(t *testing.T) {
	p := DefaultRetryPolicy()
	gerr := &infra.GatewayError{Kind: infra.KindTransient, Code: "503"}

	d := p.Decide(gerr, 3, 3, time.Now())
	assert.True(t, d.Terminal)
}

func TestDecideIndeterminateRetries(t *testing.T) {
	p := DefaultRetryPolicy()
	gerr := &infra.GatewayError{Kind: infra.KindIndeterminate, Message: "timeout mid-flight"}

	d := p.Decide(gerr, 0, 3, time.Now())
	assert.False(t, d.Terminal, "indeterminate outcomes are retried (after dedup lookup)")
}
