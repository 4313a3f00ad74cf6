package security

import (
	"testing"
	"time"
)

func TestIsExpiredAt(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		now       time.Time
		want      bool
	}{
		{
			name:      "before expiry",
			expiresAt: base.Add(300 * time.Second),
			now:       base.Add(299 * time.Second),
			want:      false,
		},
		{
			name:      "exactly at expiry",
			expiresAt: base.Add(300 * time.Second),
			now:       base.Add(300 * time.Second),
			want:      true,
		},
		{
			name:      "after expiry",
			expiresAt: base.Add(300 * time.Second),
			now:       base.Add(301 * time.Second),
			want:      true,
		},
		{
			name:      "zero expiry never expires",
			expiresAt: time.Time{},
			now:       base,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpiredAt(tt.expiresAt, tt.now); got != tt.want {
				t.Errorf("IsExpiredAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsExpired(t *testing.T) {
	if IsExpired(time.Now().Add(time.Hour)) {
		t.Error("future expiry reported as expired")
	}
	if !IsExpired(time.Now().Add(-time.Second)) {
		t.Error("past expiry not reported as expired")
	}
}

func TestIsExpiringSoon(t *testing.T) {
	if !IsExpiringSoon(time.Now().Add(time.Minute), 5*time.Minute) {
		t.Error("expiry inside window not reported as expiring soon")
	}
	if IsExpiringSoon(time.Now().Add(time.Hour), 5*time.Minute) {
		t.Error("expiry outside window reported as expiring soon")
	}
}
