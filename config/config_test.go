package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/goose-run/goose-core/config"
)

func TestStoreDefaultsWhenUnset(t *testing.T) {
	s := config.New()
	assert.Equal(t, config.ModeSmartApprove, s.Mode())
	assert.Equal(t, config.RouterStrategyDefault, s.RouterStrategy())
	assert.Equal(t, 3, s.LeadTurns())
	assert.Equal(t, 2, s.LeadFailureThreshold())
	assert.Equal(t, 2, s.LeadFallbackTurns())
	assert.Equal(t, 20000, s.TodoMaxChars())
	_, ok := s.LeadModel()
	assert.False(t, ok)
}

func TestStoreGetSetOverridesDefaults(t *testing.T) {
	s := config.New()
	s.Set("GOOSE_MODE", "chat")
	s.Set("GOOSE_LEAD_TURNS", "5")
	s.Set("GOOSE_TEMPERATURE", "0.4")

	assert.Equal(t, config.ModeChat, s.Mode())
	assert.Equal(t, 5, s.LeadTurns())
	temp, ok := s.Temperature()
	assert.True(t, ok)
	assert.InDelta(t, 0.4, temp, 1e-9)
}

func TestStoreIndependentInstancesDontLeak(t *testing.T) {
	a := config.New()
	b := config.New()
	a.Set("GOOSE_MODE", "auto")
	assert.Equal(t, config.ModeAuto, a.Mode())
	assert.Equal(t, config.ModeSmartApprove, b.Mode())
}
