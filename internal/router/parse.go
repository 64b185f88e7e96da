package router

import (
	"encoding/json"
	"net/http"
)

// initiatorHeader is set downstream to tell the vendor whether a call came
// from an autonomous agent step or a direct user action. When it is already
// present on the inbound request it overrides the body heuristic.
const initiatorHeader = "X-Initiator"

// maxMessageIDLen is the longest message id the backend accepts; longer ids
// are silently rejected upstream, so the router strips them.
const maxMessageIDLen = 64

// RequestProfile is the typed result of the best-effort body parse. Parsed
// reports whether the body was JSON we could read at all; when false the
// profile is the documented fallback: unknown model, user-initiated, no
// vision content.
type RequestProfile struct {
	Model  string
	Agent  bool
	Vision bool
	Parsed bool
}

type requestBody struct {
	Model    string        `json:"model"`
	Messages []requestItem `json:"messages"`
	Input    []requestItem `json:"input"`
}

type requestItem struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
}

// profileRequest extracts the model, the agent/user initiator and the
// presence of vision content from an outbound request body.
func profileRequest(body []byte, header http.Header) RequestProfile {
	profile := RequestProfile{}

	var parsed requestBody
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
		profile.Parsed = true
		profile.Model = parsed.Model

		items := parsed.Messages
		if len(items) == 0 {
			items = parsed.Input
		}
		if len(items) > 0 {
			profile.Agent = items[len(items)-1].Role != "user"
		}
		for _, item := range items {
			if hasVisionPart(item.Content) {
				profile.Vision = true
				break
			}
		}
	}

	switch header.Get(initiatorHeader) {
	case "agent":
		profile.Agent = true
	case "user":
		profile.Agent = false
	}
	return profile
}

// hasVisionPart reports whether a message content value contains an
// image-typed part. Content is either a plain string or an array of typed
// parts; only the array form can carry images.
func hasVisionPart(content json.RawMessage) bool {
	if len(content) == 0 {
		return false
	}
	var parts []contentPart
	if err := json.Unmarshal(content, &parts); err != nil {
		return false
	}
	for _, p := range parts {
		if p.Type == "image_url" || p.Type == "input_image" {
			return true
		}
	}
	return false
}

// sanitizeBody drops message and input item ids longer than the backend's
// limit. It returns the original bytes untouched when nothing needed
// rewriting or the body is not JSON we understand.
func sanitizeBody(body []byte) []byte {
	if len(body) == 0 {
		return body
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return body
	}

	changed := false
	for _, key := range []string{"messages", "input"} {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		var items []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			continue
		}
		itemsChanged := false
		for _, item := range items {
			rawID, ok := item["id"]
			if !ok {
				continue
			}
			var id string
			if err := json.Unmarshal(rawID, &id); err != nil {
				continue
			}
			if len(id) > maxMessageIDLen {
				delete(item, "id")
				itemsChanged = true
			}
		}
		if !itemsChanged {
			continue
		}
		rewritten, err := json.Marshal(items)
		if err != nil {
			continue
		}
		doc[key] = rewritten
		changed = true
	}

	if !changed {
		return body
	}
	rewritten, err := json.Marshal(doc)
	if err != nil {
		return body
	}
	return rewritten
}
