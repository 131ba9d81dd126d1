package pathenc

import "testing"

func TestEncode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "all special chars",
			input: `.<>:"/\|?*`,
			want:  "%DOT%%LT%%GT%%COLON%%QUOTE%%SLASH%%BACKSLASH%%PIPE%%QUESTION%%STAR%",
		},
		{
			name:  "no special chars",
			input: "NormalFileName",
			want:  "NormalFileName",
		},
		{
			name:  "leading spaces",
			input: "  LeadingSpaces",
			want:  "%SPACE%%SPACE%LeadingSpaces",
		},
		{
			name:  "trailing spaces",
			input: "TrailingSpaces  ",
			want:  "TrailingSpaces%SPACE%%SPACE%",
		},
		{
			name:  "both spaces keep middle",
			input: " Both Spaces ",
			want:  "%SPACE%Both Spaces%SPACE%",
		},
		{
			name:  "middle spaces unchanged",
			input: "Middle Spaces Here",
			want:  "Middle Spaces Here",
		},
		{
			name:  "period",
			input: "My.Script",
			want:  "My%DOT%Script",
		},
		{
			name:  "percent",
			input: "My%Thing",
			want:  "My%%Thing",
		},
		{
			name:  "name that looks like an encoding",
			input: "My%DOT%Thing",
			want:  "My%%DOT%%Thing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Encode(tt.input); got != tt.want {
				t.Errorf("Encode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "all special chars",
			input: "%DOT%%LT%%GT%%COLON%%QUOTE%%SLASH%%BACKSLASH%%PIPE%%QUESTION%%STAR%",
			want:  `.<>:"/\|?*`,
		},
		{
			name:  "escaped percent",
			input: "My%%Thing",
			want:  "My%Thing",
		},
		{
			name:  "unknown token left literal",
			input: "My%NOTATOKEN%Thing",
			want:  "My%NOTATOKEN%Thing",
		},
		{
			name:  "lone percent left literal",
			input: "50% done",
			want:  "50% done",
		},
		{
			name:  "lowercase is not a token",
			input: "%dot%",
			want:  "%dot%",
		},
		{
			name:  "period token",
			input: "My%DOT%Script",
			want:  "My.Script",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decode(tt.input); got != tt.want {
				t.Errorf("Decode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRoundtrip(t *testing.T) {
	t.Parallel()
	inputs := []string{
		`Test<File>With:Special"Chars/And\More|Stuff?Here*End`,
		"My.Module.Name",
		"My%Thing",
		"My%DOT%Thing",
		"My.%Thing.Other",
		"  <Test>  ",
		"",
		"%",
		"%%",
		"%SPACE%",
		"plain",
		"uniçode.näme",
	}

	for _, input := range inputs {
		encoded := Encode(input)
		decoded := Decode(encoded)
		if decoded != input {
			t.Errorf("Decode(Encode(%q)) = %q via %q, want original", input, decoded, encoded)
		}
	}
}
