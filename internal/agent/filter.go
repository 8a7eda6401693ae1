package agent

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ContentFilterRefusal is returned in place of an answer when the provider's
// content filter flags the prompt as a jailbreak attempt.
const ContentFilterRefusal = "I'm sorry, but I can't comply with that request. " +
	"I'm not able to share my system prompt, API keys, " +
	"or any other internal configuration details."

// jailbreakPaths are the locations of the jailbreak verdict in an Azure
// OpenAI error body, bare and wrapped in an "error" envelope.
var jailbreakPaths = []string{
	"innererror.content_filter_result.jailbreak.filtered",
	"error.innererror.content_filter_result.jailbreak.filtered",
}

// isJailbreakFiltered reports whether any error in err's tree carries a
// provider body flagging a jailbreak. Both the JSON encoding of each error
// value and any JSON object embedded in its message are inspected. Other
// content filter categories and transport errors return false.
func isJailbreakFiltered(err error) bool {
	if err == nil {
		return false
	}
	if b, mErr := json.Marshal(err); mErr == nil && jailbreakFlagged(b) {
		return true
	}
	if obj, ok := embeddedJSON(err.Error()); ok && jailbreakFlagged([]byte(obj)) {
		return true
	}
	switch e := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if isJailbreakFiltered(inner) {
				return true
			}
		}
	default:
		if inner := errors.Unwrap(err); inner != nil {
			return isJailbreakFiltered(inner)
		}
	}
	return false
}

func jailbreakFlagged(body []byte) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	for _, r := range gjson.GetManyBytes(body, jailbreakPaths...) {
		if r.Bool() {
			return true
		}
	}
	return false
}

// embeddedJSON returns the widest {...} span of msg when it is valid JSON.
func embeddedJSON(msg string) (string, bool) {
	start := strings.IndexByte(msg, '{')
	end := strings.LastIndexByte(msg, '}')
	if start < 0 || end <= start {
		return "", false
	}
	obj := msg[start : end+1]
	return obj, gjson.Valid(obj)
}
