package markup

import "testing"

func TestToPlain(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bold and italic",
			in:   "This is **important** and *subtle*.",
			want: "This is important and subtle.",
		},
		{
			name: "inline code",
			in:   "Run `go test ./...` to verify.",
			want: "Run go test ./... to verify.",
		},
		{
			name: "link keeps text drops target",
			in:   "See [the docs](https://example.com/docs) for details.",
			want: "See the docs for details.",
		},
		{
			name: "heading",
			in:   "## Results\nAll good.",
			want: "Results\nAll good.",
		},
		{
			name: "fenced block keeps content",
			in:   "before\n```go\nfmt.Println(\"hi\")\n```\nafter",
			want: "before\nfmt.Println(\"hi\")\nafter",
		},
		{
			name: "bullets normalized",
			in:   "* first\n+ second\n- third",
			want: "- first\n- second\n- third",
		},
		{
			name: "horizontal rule removed",
			in:   "above\n---\nbelow",
			want: "above\n\nbelow",
		},
		{
			name: "plain text untouched",
			in:   "nothing fancy here",
			want: "nothing fancy here",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToPlain(tt.in); got != tt.want {
				t.Errorf("ToPlain(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bold and italic",
			in:   "This is **important** and *subtle*.",
			want: "This is <strong>important</strong> and <em>subtle</em>.",
		},
		{
			name: "inline code content escaped",
			in:   "Compare `a < b` with care.",
			want: "Compare <code>a &lt; b</code> with care.",
		},
		{
			name: "raw html escaped",
			in:   "<script>alert(1)</script>",
			want: "&lt;script&gt;alert(1)&lt;/script&gt;",
		},
		{
			name: "ampersand escaped inside bold",
			in:   "**salt & pepper**",
			want: "<strong>salt &amp; pepper</strong>",
		},
		{
			name: "fenced block escaped and wrapped",
			in:   "before\n```go\nif a < b && b > c {\n```\nafter",
			want: "before\n<pre><code>if a &lt; b &amp;&amp; b &gt; c {</code></pre>\nafter",
		},
		{
			name: "unclosed fence still renders as code",
			in:   "```\nx < y",
			want: "<pre><code>x &lt; y</code></pre>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToHTML(tt.in); got != tt.want {
				t.Errorf("ToHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToPlainCollapsesBlankRuns(t *testing.T) {
	got := ToPlain("# Title\n\n\n\ntext")
	if got != "Title\n\ntext" {
		t.Errorf("got %q", got)
	}
}
