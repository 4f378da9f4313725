// Package sharelink encodes survey data into URL query parameters.
//
// A token is the standard base64 encoding of the UTF-8 JSON text of a value.
// Decoding undoes the usual damage a token suffers when pasted around as part
// of a URL: url-safe alphabet, '+' turned into spaces, stripped padding.
package sharelink

import (
	"encoding/base64"
	"net/url"
	"strings"
	"unicode"

	"github.com/goccy/go-json"
	"github.com/mbolis/matrix-survey/model"
)

const (
	ParamQuestions = "d"
	ParamWebhook   = "w"
)

// Encode returns the token of v, or "" if v cannot be serialized.
func Encode(v any) (token string) {
	defer func() {
		if recover() != nil {
			token = ""
		}
	}()

	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// Decode parses token into v. It reports false when the token is missing,
// malformed or not valid JSON for v; v must not be trusted in that case.
func Decode(token string, v any) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	data, ok := decodeBase64(token)
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// DecodeQuestions decodes a question list token. Only a JSON array counts.
func DecodeQuestions(token string) ([]model.Question, bool) {
	var questions []model.Question
	if !Decode(token, &questions) || questions == nil {
		return nil, false
	}
	return questions, true
}

// EncodeEndpoint encodes a webhook URL. Endpoints travel as plain base64 text.
func EncodeEndpoint(endpoint string) string {
	return base64.StdEncoding.EncodeToString([]byte(endpoint))
}

func DecodeEndpoint(token string) (string, bool) {
	data, ok := decodeBase64(token)
	if !ok || len(data) == 0 {
		return "", false
	}
	return string(data), true
}

// Link builds a share link to base carrying the question list and, when
// set, the webhook endpoint.
func Link(base string, questions []model.Question, endpoint string) string {
	q := url.Values{}
	q.Set(ParamQuestions, Encode(questions))
	if endpoint != "" {
		q.Set(ParamWebhook, EncodeEndpoint(endpoint))
	}
	return base + "?" + q.Encode()
}

func normalize(token string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '-':
			return '+'
		case r == '_':
			return '/'
		case unicode.IsSpace(r):
			return '+'
		}
		return r
	}, token)
}

func decodeBase64(token string) ([]byte, bool) {
	if token == "" {
		return nil, false
	}
	token = strings.TrimRight(normalize(token), "=")
	data, err := base64.RawStdEncoding.DecodeString(token)
	if err != nil {
		return nil, false
	}
	return data, true
}
