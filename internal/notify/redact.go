package notify

import (
	"fmt"
	"strings"
)

// PreviewLevel is the user's privacy setting for notification content.
// Levels are ordered from most to least private.
type PreviewLevel int

const (
	NoNameNoPreview PreviewLevel = iota
	NameNoPreview
	NamePreview
)

func (l PreviewLevel) String() string {
	switch l {
	case NoNameNoPreview:
		return "no_name_no_preview"
	case NameNoPreview:
		return "name_no_preview"
	case NamePreview:
		return "name_preview"
	default:
		return fmt.Sprintf("PreviewLevel(%d)", int(l))
	}
}

// ParsePreviewLevel accepts the config spelling of a level. An empty string
// means NamePreview; unknown values are an error.
func ParsePreviewLevel(s string) (PreviewLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "no_name_no_preview", "nonamenopreview":
		return NoNameNoPreview, nil
	case "name_no_preview", "namenopreview":
		return NameNoPreview, nil
	case "name_preview", "namepreview", "":
		return NamePreview, nil
	default:
		return NoNameNoPreview, fmt.Errorf("unknown preview level %q", s)
	}
}

// ShowsActions reports whether notifications may offer conversational actions
// at this level. Actions are hidden whenever names or content are hidden.
func (l PreviewLevel) ShowsActions() bool { return l == NamePreview }

// Content is everything an event could show before privacy is applied.
type Content struct {
	// Title is the sender or caller display name (or thread name).
	Title string
	// GroupingKey groups notifications of one thread together.
	GroupingKey string
	// Body is the event text. When Previewable is true it is conversational
	// content and only shown at NamePreview.
	Body        string
	Previewable bool
	// GenericBody replaces a previewable Body at levels that hide content.
	GenericBody string
}

// Redacted is what may actually be shown. Empty strings mean "absent".
type Redacted struct {
	Title       string
	Body        string
	GroupingKey string
}

// Redact applies the preview level to c. It is the single decision point used
// by every presenter operation.
func Redact(level PreviewLevel, c Content) Redacted {
	body := c.Body
	if c.Previewable && level != NamePreview {
		body = c.GenericBody
	}

	switch level {
	case NameNoPreview, NamePreview:
		return Redacted{Title: c.Title, Body: body, GroupingKey: c.GroupingKey}
	default:
		return Redacted{Body: body}
	}
}
