package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/felixgeelhaar/meetdash/internal/errors"
)

// statusError is a non-2xx answer with its body already read.
type statusError struct {
	status int
	body   []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend returned status %d", e.status)
}

func readStatusError(resp *http.Response) *statusError {
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return &statusError{status: resp.StatusCode, body: data}
}

// errorBody covers the shapes the backend uses for failures: {"error": ...},
// {"message": ...}, {"detail": ...}, {"non_field_errors": [...]} and
// per-field {"email": ["..."]} maps.
type errorBody struct {
	Message string
	Fields  map[string]string
}

var messageKeys = []string{"error", "detail", "message", "non_field_errors"}

func parseErrorBody(data []byte) errorBody {
	var eb errorBody
	var raw map[string]json.RawMessage
	if json.Unmarshal(data, &raw) != nil {
		eb.Message = strings.TrimSpace(string(data))
		if len(eb.Message) > 200 || strings.HasPrefix(eb.Message, "<") {
			eb.Message = ""
		}
		return eb
	}

	for _, k := range messageKeys {
		if v, ok := raw[k]; ok && eb.Message == "" {
			eb.Message = firstString(v)
		}
	}

	if errs, ok := raw["errors"]; ok {
		var nested map[string]json.RawMessage
		if json.Unmarshal(errs, &nested) == nil {
			for k, v := range nested {
				raw[k] = v
			}
		}
	}

	for k, v := range raw {
		if k == "errors" || contains(messageKeys, k) {
			continue
		}
		var list []string
		if json.Unmarshal(v, &list) == nil && len(list) > 0 {
			if eb.Fields == nil {
				eb.Fields = make(map[string]string)
			}
			eb.Fields[k] = list[0]
		}
	}
	return eb
}

func firstString(v json.RawMessage) string {
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(v, &list) == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// toDashError maps the status to an error code. authed tells whether the
// request carried a token, which decides what a 401 means.
func (e *statusError) toDashError(authed bool) *errors.DashError {
	eb := parseErrorBody(e.body)
	msg := eb.Message

	var de *errors.DashError
	switch {
	case e.status == http.StatusUnauthorized && authed:
		de = errors.NewTokenExpiredError()
		if msg != "" {
			de.Message = msg
		}
	case e.status == http.StatusUnauthorized:
		de = errors.NewInvalidCredentialsError(msg)
	case e.status == http.StatusForbidden:
		de = errors.New(errors.ErrCodeForbidden, orDefault(msg, "You do not have permission to perform this action"))
	case e.status == http.StatusNotFound:
		de = errors.New(errors.ErrCodeAPINotFound, orDefault(msg, "Not found"))
	case e.status == http.StatusConflict:
		de = errors.New(errors.ErrCodeAPIConflict, orDefault(msg, "Conflict"))
	case e.status == http.StatusTooManyRequests:
		de = errors.New(errors.ErrCodeAPIRateLimited, orDefault(msg, "Too many requests")).
			WithSuggestion("Wait a minute before trying again")
	case e.status == http.StatusBadRequest || e.status == http.StatusUnprocessableEntity:
		de = errors.New(errors.ErrCodeAPIBadRequest, orDefault(msg, summarize(eb.Fields)))
	case e.status >= 500:
		de = errors.New(errors.ErrCodeAPIServer, orDefault(msg, "Server error")).
			WithSuggestion("Try again later")
	default:
		de = errors.New(errors.ErrCodeAPIRequest, orDefault(msg, fmt.Sprintf("Request failed with status %d", e.status)))
	}
	for k, v := range eb.Fields {
		de.WithField(k, v)
	}
	return de.WithStatus(e.status)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func summarize(fields map[string]string) string {
	if len(fields) == 0 {
		return "Invalid request"
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fields[keys[0]]
}
