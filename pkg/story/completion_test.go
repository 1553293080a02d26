package story

import "testing"

func TestCompletionPercent(t *testing.T) {
	tests := []struct {
		name      string
		nonHidden []string
		visited   []string
		want      float64
	}{
		{
			name:      "empty story",
			nonHidden: nil,
			visited:   []string{"f0"},
			want:      0,
		},
		{
			name:      "nothing visited",
			nonHidden: []string{"f0", "f1"},
			visited:   nil,
			want:      0,
		},
		{
			name:      "half visited",
			nonHidden: []string{"f0", "f1", "f2", "f3"},
			visited:   []string{"f0", "f2"},
			want:      50,
		},
		{
			name:      "all visited",
			nonHidden: []string{"f0", "f1"},
			visited:   []string{"f0", "f1"},
			want:      100,
		},
		{
			name:      "hidden visits do not count",
			nonHidden: []string{"f0", "f1"},
			visited:   []string{"f0", "secret_1", "secret_2"},
			want:      50,
		},
		{
			name:      "rounded to one decimal",
			nonHidden: []string{"f0", "f1", "f2"},
			visited:   []string{"f0"},
			want:      33.3,
		},
		{
			name:      "two thirds",
			nonHidden: []string{"f0", "f1", "f2"},
			visited:   []string{"f0", "f1"},
			want:      66.7,
		},
		{
			name:      "duplicate visits count once",
			nonHidden: []string{"f0", "f1"},
			visited:   []string{"f0", "f0", "f0"},
			want:      50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompletionPercent(tt.nonHidden, tt.visited)
			if got != tt.want {
				t.Errorf("CompletionPercent() = %v, want %v", got, tt.want)
			}
		})
	}
}
