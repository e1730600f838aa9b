package googledrive

import (
	"reflect"
	"testing"
)

func TestSplitFolderPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"leading slash", "/Inv", []string{"Inv"}},
		{"nested path", "/Inv/2024", []string{"Inv", "2024"}},
		{"trailing slash", "Inv/2024/", []string{"Inv", "2024"}},
		{"double slash collapses", "Inv//2024", []string{"Inv", "2024"}},
		{"whitespace segments dropped", "Inv/ /2024", []string{"Inv", "2024"}},
		{"empty path", "", nil},
		{"only slashes", "///", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitFolderPath(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitFolderPath(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestEscapeQuery(t *testing.T) {
	if got := escapeQuery("it's"); got != "it\\'s" {
		t.Errorf("escapeQuery = %q", got)
	}
}
