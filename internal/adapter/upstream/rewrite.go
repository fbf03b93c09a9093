package upstream

import (
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// rewriteModel replaces the body's model field in place, splicing the new
// value into the raw bytes so every other field passes through untouched,
// key order and formatting included.
func rewriteModel(body []byte, model string) []byte {
	field := gjson.GetBytes(body, "model")
	if !field.Exists() || field.Index <= 0 {
		return body
	}
	if field.String() == model {
		return body
	}

	quoted, err := json.Marshal(model)
	if err != nil {
		return body
	}

	out := make([]byte, 0, len(body)+len(quoted))
	out = append(out, body[:field.Index]...)
	out = append(out, quoted...)
	out = append(out, body[field.Index+len(field.Raw):]...)
	return out
}
