package proxy

import "testing"

func TestRouteLabelCollapsesPathParameters(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "chat completions stays literal",
			path: "/v1/chat/completions",
			want: "/v1/chat/completions",
		},
		{
			name: "abort stays literal",
			path: "/v1/chat/abort",
			want: "/v1/chat/abort",
		},
		{
			name: "conversation id collapses",
			path: "/v1/conversations/conv-9f8a7b/messages",
			want: "/v1/conversations/:id/messages",
		},
		{
			name: "message id collapses but trailing keywords survive",
			path: "/v1/conversations/conv-1/messages/msg-2/edit",
			want: "/v1/conversations/:id/messages/:id/edit",
		},
		{
			name: "healthz untouched",
			path: "/healthz",
			want: "/healthz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := routeLabel(tt.path); got != tt.want {
				t.Errorf("routeLabel(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
