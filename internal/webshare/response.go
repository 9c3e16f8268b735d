package webshare

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Outcome classifies a remote call.
type Outcome int

const (
	// OutcomeFailure covers transport errors, non-2xx statuses, and
	// success statuses whose body could not be parsed.
	OutcomeFailure Outcome = iota
	// OutcomeSuccess is a 2xx status with a parsed body.
	OutcomeSuccess
	// OutcomeNoContent is a 2xx status with an empty body.
	OutcomeNoContent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNoContent:
		return "no-content"
	default:
		return "failure"
	}
}

// isSuccessStatus reports whether code lies in the inclusive 2xx range.
func isSuccessStatus(code int) bool {
	return code >= 200 && code <= 299
}

// isEmptyBody reports whether a response body carries no payload.
func isEmptyBody(body []byte) bool {
	return len(bytes.TrimSpace(body)) == 0
}

// authorizationID accepts both numeric and string ids from the remote API.
type authorizationID string

func (id *authorizationID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = authorizationID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("authorization id: %w", err)
	}
	*id = authorizationID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as numbers so the file shim round-trips
// the same shape the remote API returns.
func (id authorizationID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

type authorizationJSON struct {
	ID        authorizationID `json:"id"`
	IPAddress string          `json:"ip_address"`
}

type listResponse struct {
	Count   int                  `json:"count"`
	Next    *string              `json:"next"`
	Results *[]authorizationJSON `json:"results"`
}

type createRequest struct {
	IPAddress string `json:"ip_address"`
}

type whatsMyIPResponse struct {
	IPAddress *string `json:"ip_address"`
}
