package flag_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/gatekit/pkg/flag"
)

func TestABTestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *flag.ABTestConfig
		wantErr bool
	}{
		{
			name: "valid two-way split",
			cfg: &flag.ABTestConfig{
				Variants:     []flag.Variant{{Name: "control", Weight: 1}, {Name: "treatment", Weight: 1}},
				TrafficSplit: map[string]int{"control": 50, "treatment": 50},
			},
		},
		{
			name: "valid uneven split",
			cfg: &flag.ABTestConfig{
				Variants:     []flag.Variant{{Name: "a", Weight: 9}, {Name: "b", Weight: 1}},
				TrafficSplit: map[string]int{"a": 90, "b": 10},
			},
		},
		{
			name:    "nil config is valid",
			cfg:     nil,
			wantErr: false,
		},
		{
			name: "split under 100",
			cfg: &flag.ABTestConfig{
				Variants:     []flag.Variant{{Name: "a"}, {Name: "b"}},
				TrafficSplit: map[string]int{"a": 40, "b": 40},
			},
			wantErr: true,
		},
		{
			name: "split over 100",
			cfg: &flag.ABTestConfig{
				Variants:     []flag.Variant{{Name: "a"}, {Name: "b"}},
				TrafficSplit: map[string]int{"a": 60, "b": 60},
			},
			wantErr: true,
		},
		{
			name: "variant missing from split",
			cfg: &flag.ABTestConfig{
				Variants:     []flag.Variant{{Name: "a"}, {Name: "b"}},
				TrafficSplit: map[string]int{"a": 100},
			},
			wantErr: true,
		},
		{
			name: "split references unknown variant",
			cfg: &flag.ABTestConfig{
				Variants:     []flag.Variant{{Name: "a"}},
				TrafficSplit: map[string]int{"a": 100, "ghost": 0},
			},
			wantErr: true,
		},
		{
			name: "no variants",
			cfg: &flag.ABTestConfig{
				TrafficSplit: map[string]int{},
			},
			wantErr: true,
		},
		{
			name: "negative weight",
			cfg: &flag.ABTestConfig{
				Variants:     []flag.Variant{{Name: "a"}, {Name: "b"}},
				TrafficSplit: map[string]int{"a": -10, "b": 110},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, flag.ErrInvalidTrafficSplit)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestABTestConfigActiveAt(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		cfg  *flag.ABTestConfig
		want bool
	}{
		{"nil config", nil, false},
		{"inactive", &flag.ABTestConfig{Active: false}, false},
		{"active without window", &flag.ABTestConfig{Active: true}, true},
		{"inside window", &flag.ABTestConfig{Active: true, StartsAt: &past, EndsAt: &future}, true},
		{"before start", &flag.ABTestConfig{Active: true, StartsAt: &future}, false},
		{"after end", &flag.ABTestConfig{Active: true, EndsAt: &past}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cfg.ActiveAt(now))
		})
	}
}
