package notify

import "testing"

func TestRedact(t *testing.T) {
	t.Parallel()
	msg := Content{Title: "Alice", GroupingKey: "t1", Body: "hello", Previewable: true, GenericBody: TextNewMessage}
	call := Content{Title: "Bob", GroupingKey: "t2", Body: TextIncomingCall}

	tests := []struct {
		name  string
		level PreviewLevel
		in    Content
		want  Redacted
	}{
		{"message full", NamePreview, msg, Redacted{Title: "Alice", Body: "hello", GroupingKey: "t1"}},
		{"message name only", NameNoPreview, msg, Redacted{Title: "Alice", Body: TextNewMessage, GroupingKey: "t1"}},
		{"message hidden", NoNameNoPreview, msg, Redacted{Body: TextNewMessage}},
		{"call full", NamePreview, call, Redacted{Title: "Bob", Body: TextIncomingCall, GroupingKey: "t2"}},
		{"call name only", NameNoPreview, call, Redacted{Title: "Bob", Body: TextIncomingCall, GroupingKey: "t2"}},
		{"call hidden", NoNameNoPreview, call, Redacted{Body: TextIncomingCall}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Redact(tt.level, tt.in); got != tt.want {
				t.Fatalf("Redact = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParsePreviewLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    PreviewLevel
		wantErr bool
	}{
		{"", NamePreview, false},
		{"namePreview", NamePreview, false},
		{"name_no_preview", NameNoPreview, false},
		{"noNameNoPreview", NoNameNoPreview, false},
		{"everything", NoNameNoPreview, true},
	}
	for _, tt := range tests {
		got, err := ParsePreviewLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParsePreviewLevel(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParsePreviewLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if !NamePreview.ShowsActions() || NameNoPreview.ShowsActions() || NoNameNoPreview.ShowsActions() {
		t.Fatal("only NamePreview shows actions")
	}
}
