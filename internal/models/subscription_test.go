package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscription_ActiveAt(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "future expiry", expiresAt: now.Add(time.Second), want: true},
		{name: "expires exactly now", expiresAt: now, want: false},
		{name: "past expiry", expiresAt: now.Add(-time.Hour), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := Subscription{UserID: "1", ExpiresAt: tt.expiresAt, Plan: PlanAutomatedMonthly}
			assert.Equal(t, tt.want, sub.ActiveAt(now))
		})
	}
}
