package minutes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/nickigann03/ai-secretary/internal/models"
)

// ShapeKind names which of the accepted reply layouts was found.
type ShapeKind int

const (
	ShapeEmpty ShapeKind = iota
	ShapeArray
	ShapeWrappedInMinutesKey
	ShapeWrappedInUnknownKey
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeArray:
		return "array"
	case ShapeWrappedInMinutesKey:
		return "minutes_key"
	case ShapeWrappedInUnknownKey:
		return "unknown_key"
	default:
		return "empty"
	}
}

// Shape is the matched reply layout together with the array it carried.
// Key is set only for ShapeWrappedInUnknownKey.
type Shape struct {
	Kind  ShapeKind
	Key   string
	Items gjson.Result
}

var ErrUnparsable = errors.New("model reply is not valid json")

// stripFences removes markdown code fences around a JSON payload.
func stripFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// MatchShape classifies a model reply. The checks run in a fixed order: a bare
// array, then an object with a "minutes" array, then the first array-valued key
// in document order. Anything else is ShapeEmpty. Text that is not JSON at all
// is an error, never an empty result.
func MatchShape(reply string) (Shape, error) {
	text := stripFences(reply)
	if text == "" || !gjson.Valid(text) {
		return Shape{}, ErrUnparsable
	}
	doc := gjson.Parse(text)
	switch {
	case doc.IsArray():
		return Shape{Kind: ShapeArray, Items: doc}, nil
	case doc.Type == gjson.Null:
		return Shape{}, fmt.Errorf("%w: reply is null", ErrUnparsable)
	case !doc.IsObject():
		return Shape{Kind: ShapeEmpty}, nil
	}
	if wrapped := doc.Get("minutes"); wrapped.IsArray() {
		return Shape{Kind: ShapeWrappedInMinutesKey, Key: "minutes", Items: wrapped}, nil
	}
	shape := Shape{Kind: ShapeEmpty}
	doc.ForEach(func(key, value gjson.Result) bool {
		if value.IsArray() {
			shape = Shape{Kind: ShapeWrappedInUnknownKey, Key: key.String(), Items: value}
			return false
		}
		return true
	})
	return shape, nil
}

// MinuteItems converts the matched array. Items without a label are numbered
// by position as "N.0" and a blank remark becomes "Info".
func (s Shape) MinuteItems() []models.MinuteItem {
	out := []models.MinuteItem{}
	if s.Kind == ShapeEmpty {
		return out
	}
	idx := 0
	s.Items.ForEach(func(_, v gjson.Result) bool {
		idx++
		var item models.MinuteItem
		if v.IsObject() {
			item = models.MinuteItem{
				Item:        strings.TrimSpace(v.Get("item").String()),
				Description: strings.TrimSpace(v.Get("description").String()),
				Remark:      strings.TrimSpace(v.Get("remark").String()),
			}
		} else {
			item.Description = strings.TrimSpace(v.String())
		}
		if item.Item == "" {
			item.Item = strconv.Itoa(idx) + ".0"
		}
		if item.Remark == "" {
			item.Remark = InfoRemark
		}
		out = append(out, item)
		return true
	})
	return out
}
