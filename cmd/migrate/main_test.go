package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func versions(ms []migration) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.version)
	}
	return out
}

func TestPlan(t *testing.T) {
	files := []string{
		"0002_b.up.sql", "0001_a.up.sql", "0003_c.up.sql",
		"0001_a.down.sql", "0002_b.down.sql", "0003_c.down.sql",
	}

	tests := []struct {
		name      string
		applied   map[string]bool
		direction string
		steps     int
		want      []string
	}{
		{
			name:      "up from empty runs all in order",
			applied:   map[string]bool{},
			direction: "up",
			want:      []string{"0001_a", "0002_b", "0003_c"},
		},
		{
			name:      "up skips applied",
			applied:   map[string]bool{"0001_a": true},
			direction: "up",
			want:      []string{"0002_b", "0003_c"},
		},
		{
			name:      "up honours steps",
			applied:   map[string]bool{},
			direction: "up",
			steps:     1,
			want:      []string{"0001_a"},
		},
		{
			name:      "down reverses and only touches applied",
			applied:   map[string]bool{"0001_a": true, "0002_b": true},
			direction: "down",
			want:      []string{"0002_b", "0001_a"},
		},
		{
			name:      "nothing pending",
			applied:   map[string]bool{"0001_a": true, "0002_b": true, "0003_c": true},
			direction: "up",
			want:      []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, versions(plan(files, tt.applied, tt.direction, tt.steps)))
		})
	}
}
