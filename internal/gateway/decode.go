package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// The backend has answered in more than one shape over its lifetime. All
// shape tolerance lives here, at the boundary, so call sites only ever see
// the decoded structs.

type sessionListEnvelope struct {
	HasToken *bool        `json:"has_token"`
	Sessions []SessionRow `json:"chat_sessions"`
}

// decodeSessionList accepts either the current envelope
// {has_token, chat_sessions: [...]} or the legacy bare array form.
func decodeSessionList(raw []byte) (*SessionList, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	if trimmed[0] == '[' {
		var rows []SessionRow
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, err
		}
		// Legacy form predates token reporting; assume a token exists.
		return &SessionList{HasToken: true, Sessions: rows}, nil
	}

	var env sessionListEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	hasToken := true
	if env.HasToken != nil {
		hasToken = *env.HasToken
	}
	return &SessionList{HasToken: hasToken, Sessions: env.Sessions}, nil
}

// decodeSessionContent accepts a bare session object or a single-element
// array wrapping it.
func decodeSessionContent(raw []byte) (*SessionContent, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	if trimmed[0] == '[' {
		var items []SessionContent
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("session not found")
		}
		return &items[0], nil
	}

	var content SessionContent
	if err := json.Unmarshal(trimmed, &content); err != nil {
		return nil, err
	}
	return &content, nil
}

// decodeToken accepts {token: "..."} or a bare JSON string.
func decodeToken(raw []byte) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("empty response body")
	}

	if trimmed[0] == '"' {
		var token string
		if err := json.Unmarshal(trimmed, &token); err != nil {
			return "", err
		}
		return token, nil
	}

	var env struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return "", err
	}
	if env.Token == "" {
		return "", fmt.Errorf("no token in response")
	}
	return env.Token, nil
}

// responseURL digs the presigned result URL out of a 202 invoke response.
// The body field arrives either as a nested object or as a string of JSON.
func responseURL(raw []byte) string {
	var outer struct {
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(raw, &outer); err != nil || len(outer.Body) == 0 {
		return ""
	}

	body := bytes.TrimSpace(outer.Body)
	if len(body) > 0 && body[0] == '"' {
		var inner string
		if err := json.Unmarshal(body, &inner); err != nil {
			return ""
		}
		body = []byte(inner)
	}

	var payload struct {
		ResponseURL string `json:"response_url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.ResponseURL
}
