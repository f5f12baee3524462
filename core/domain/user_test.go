package domain

import (
	"testing"
	"time"
)

func TestUser_NeedsWatchRenewal(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	horizon := 48 * time.Hour
	in := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	tests := []struct {
		name string
		user User
		want bool
	}{
		{"disconnected never renews", User{MailboxConnected: false, WatchExpiry: in(time.Hour)}, false},
		{"no watch yet", User{MailboxConnected: true}, true},
		{"expiring inside horizon", User{MailboxConnected: true, WatchExpiry: in(12 * time.Hour)}, true},
		{"already expired", User{MailboxConnected: true, WatchExpiry: in(-time.Hour)}, true},
		{"healthy watch", User{MailboxConnected: true, WatchExpiry: in(6 * 24 * time.Hour)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.NeedsWatchRenewal(now, horizon); got != tt.want {
				t.Errorf("NeedsWatchRenewal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUser_WatchActive(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	if (&User{MailboxConnected: true, WatchExpiry: &future}).WatchActive(now) != true {
		t.Error("live watch reported inactive")
	}
	if (&User{MailboxConnected: true, WatchExpiry: &past}).WatchActive(now) != false {
		t.Error("expired watch reported active")
	}
	if (&User{MailboxConnected: false, WatchExpiry: &future}).WatchActive(now) != false {
		t.Error("disconnected user reported active")
	}
}
