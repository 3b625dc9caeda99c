// Package fetch retrieves the remote policy document with conditional
// requests. A source that confirms the cached validator yields
// FetchUnchanged without transferring a body.
package fetch

import (
	"errors"
	"fmt"
	"io"
	"time"

	"curfew/internal/curfew"
	"curfew/internal/model"
	"curfew/internal/policy"
)

// readDocument reads at most max bytes from body and parses them.
func readDocument(body io.Reader, max int64, format policy.Format) (*model.PolicyDocument, error) {
	data, err := io.ReadAll(io.LimitReader(body, max+1))
	if err != nil {
		return nil, curfew.NewError(curfew.ErrNetworkTransient, "read body", err)
	}
	if int64(len(data)) > max {
		return nil, curfew.NewError(curfew.ErrDocumentInvalid, "read body",
			fmt.Errorf("document exceeds %d bytes", max))
	}
	return policy.Parse(data, format)
}

// conditional returns the validator to send, or "" when the request must
// be unconditional.
func conditional(token *model.FetchCacheToken, source string) string {
	if token == nil || token.Source != source {
		return ""
	}
	return token.Validator
}

func freshToken(source, validator string, now time.Time) *model.FetchCacheToken {
	return &model.FetchCacheToken{
		Source:        source,
		Validator:     validator,
		LastCheckedAt: now.UTC(),
	}
}

// classifyStatus maps a failed HTTP status onto the error taxonomy.
func classifyStatus(op string, status int) error {
	err := fmt.Errorf("unexpected status %d", status)
	switch {
	case status >= 500, status == 429, status == 408:
		return curfew.NewError(curfew.ErrNetworkTransient, op, err)
	default:
		return curfew.NewError(curfew.ErrNetworkPermanent, op, err)
	}
}

var errNoValidator = errors.New("not modified without a validator")
