package domain

import (
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// Features captures the request properties the router classifies on.
// Extracted once when the job is created, never re-parsed per attempt.
type Features struct {
	MaxTokens    int
	MessageCount int
	SystemLength int
	HasTools     bool
	HasVision    bool
}

// Job is one downstream request in flight through the dispatch pipeline.
// Identity fields are immutable after construction; the attempt bookkeeping
// is owned by the retry controller for the duration of dispatch.
type Job struct {
	ID            string
	Method        string
	Path          string
	Headers       http.Header
	Body          []byte
	IncomingModel string
	Features      Features
	Stream        bool
	StartedAt     time.Time

	AttemptedCredentials map[string]struct{}
	AttemptedModels      map[string]struct{}
	AttemptCount         int
	ModelSwitchCount     int
}

// NewJob builds a job from a sanitised request. The body is inspected once
// for the model name and routing features.
func NewJob(id, method, path string, headers http.Header, body []byte) *Job {
	model, features, stream := InspectBody(body)
	return &Job{
		ID:                   id,
		Method:               method,
		Path:                 path,
		Headers:              headers,
		Body:                 body,
		IncomingModel:        model,
		Features:             features,
		Stream:               stream,
		StartedAt:            time.Now(),
		AttemptedCredentials: make(map[string]struct{}, 4),
		AttemptedModels:      make(map[string]struct{}, 4),
	}
}

// MarkAttempt records a credential/model pair before the wire call so a
// retry never re-selects either.
func (j *Job) MarkAttempt(credentialID, model string) {
	j.AttemptCount++
	j.AttemptedCredentials[credentialID] = struct{}{}
	if _, seen := j.AttemptedModels[model]; !seen {
		j.AttemptedModels[model] = struct{}{}
	}
}

// InspectBody pulls the model name and routing features out of an
// Anthropic-format messages body without unmarshalling the whole payload.
func InspectBody(body []byte) (string, Features, bool) {
	var f Features
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return "", f, false
	}

	root := gjson.ParseBytes(body)
	model := root.Get("model").String()
	stream := root.Get("stream").Bool()

	if mt := root.Get("max_tokens"); mt.Exists() {
		f.MaxTokens = int(mt.Int())
	}

	messages := root.Get("messages")
	if messages.IsArray() {
		f.MessageCount = int(messages.Get("#").Int())
		// vision shows up as image content blocks inside any message
		messages.ForEach(func(_, msg gjson.Result) bool {
			content := msg.Get("content")
			if !content.IsArray() {
				return true
			}
			found := false
			content.ForEach(func(_, block gjson.Result) bool {
				t := block.Get("type").String()
				if t == "image" || t == "image_url" {
					found = true
					return false
				}
				return true
			})
			if found {
				f.HasVision = true
				return false
			}
			return true
		})
	}

	// system may be a plain string or an array of content blocks
	if system := root.Get("system"); system.Exists() {
		if system.Type == gjson.String {
			f.SystemLength = len(system.String())
		} else if system.IsArray() {
			system.ForEach(func(_, block gjson.Result) bool {
				f.SystemLength += len(block.Get("text").String())
				return true
			})
		}
	}

	if tools := root.Get("tools"); tools.IsArray() && tools.Get("#").Int() > 0 {
		f.HasTools = true
	}

	return model, f, stream
}
