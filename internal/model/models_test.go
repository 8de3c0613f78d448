package model

import (
	"testing"
	"time"
)

func TestQuestionIsActive(t *testing.T) {
	pub := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := Question{ID: 1, Text: "Q", PubDate: pub, LifespanDays: 7}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before publication", pub.Add(-time.Second), false},
		{"at publication", pub, true},
		{"inside window", pub.Add(72 * time.Hour), true},
		{"at window end", pub.Add(7 * 24 * time.Hour), true},
		{"after window end", pub.Add(7*24*time.Hour + time.Nanosecond), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := q.IsActive(tt.now); got != tt.want {
				t.Errorf("IsActive(%s) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestQuestionZeroLifespan(t *testing.T) {
	pub := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := Question{PubDate: pub}

	if !q.IsActive(pub) {
		t.Error("question with zero lifespan must be active exactly at publication")
	}
	if q.IsActive(pub.Add(time.Millisecond)) {
		t.Error("question with zero lifespan must not be active after publication")
	}
	if got := q.ClosesAt(); !got.Equal(pub) {
		t.Errorf("ClosesAt() = %s, want %s", got, pub)
	}
}
