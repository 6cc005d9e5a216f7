package dwell

import (
	"strings"

	"gaze-tracer/pkg/geometry"
)

// interactiveTags are the element kinds worth reporting a dwell on.
var interactiveTags = map[string]bool{
	"button": true, "a": true, "input": true, "textarea": true, "select": true,
	"img": true, "h1": true, "h2": true, "h3": true, "p": true,
}

// Properties is the computed-style snapshot carried by a dwell event.
type Properties struct {
	TagName         string `json:"tagName"`
	ID              string `json:"id,omitempty"`
	ClassName       string `json:"className,omitempty"`
	TextContent     string `json:"textContent,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	Color           string `json:"color,omitempty"`
	FontSize        string `json:"fontSize,omitempty"`
	FontWeight      string `json:"fontWeight,omitempty"`
	Padding         string `json:"padding,omitempty"`
	Margin          string `json:"margin,omitempty"`
	Width           string `json:"width,omitempty"`
	Height          string `json:"height,omitempty"`
	Display         string `json:"display,omitempty"`
	BorderRadius    string `json:"borderRadius,omitempty"`
}

// Context describes where the element sits in its document.
type Context struct {
	Parent        string `json:"parent,omitempty"`
	ParentClasses string `json:"parentClasses,omitempty"`
	SiblingCount  int    `json:"siblingCount"`
	Position      int    `json:"position"`
	HasChildren   bool   `json:"hasChildren"`
}

// Element is a hit-test result supplied by the host UI. Key is the host's
// stable identity for the element; two hits are the same element exactly
// when their keys match.
type Element struct {
	Key             string        `json:"key"`
	Rect            geometry.Rect `json:"rect"`
	Cursor          string        `json:"cursor,omitempty"`
	HasClickHandler bool          `json:"hasClickHandler,omitempty"`
	Properties      Properties    `json:"properties"`
	Context         Context       `json:"context"`

	// FrameID names the embedded frame the hit came from, empty for the
	// top-level document. FrameOffset maps frame-local coordinates back to
	// page space.
	FrameID     string           `json:"frameId,omitempty"`
	FrameOffset geometry.Point2D `json:"frameOffset"`
}

// Tag returns the lower-cased tag name.
func (e *Element) Tag() string {
	return strings.ToLower(e.Properties.TagName)
}

// Interactive reports whether the element is a dwell candidate.
func (e *Element) Interactive() bool {
	if e == nil {
		return false
	}
	if interactiveTags[e.Tag()] {
		return true
	}
	return e.HasClickHandler || e.Cursor == "pointer"
}

// PageRect returns the element bounds in page coordinates.
func (e *Element) PageRect() geometry.Rect {
	return e.Rect.Translate(e.FrameOffset)
}
