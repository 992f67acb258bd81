// Package preauth implements the Pre-auth Header Reader (C3, spec §4.3):
// it recognizes requests delegated to this proxy by a trusted
// fronting proxy that has already authenticated the caller and injected
// identity headers.
//
// Trust model: these headers are only trusted because the fronting proxy
// terminates the client connection and enforces them; no cryptographic
// check is performed here. pkg/headerproject unconditionally strips them
// from any request not authenticated this way, and always strips them
// before forwarding upstream.
package preauth

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/georchestra/gateway/pkg/model"
)

// HeaderFlag is the header that signals a pre-authenticated request.
const HeaderFlag = "sec-georchestra-preauthenticated"

// HeaderPrefix marks every identity field the fronting proxy injects.
const HeaderPrefix = "preauth-"

const base64Prefix = "{base64}"

// Read inspects r's headers and, if the request is pre-authenticated,
// returns a PreAuthToken. ok is false when the flag header is absent or not
// "true" (case-insensitive). err is non-nil only when the flag is present
// but the required preauth-username header is missing or empty.
func Read(cfg model.PreAuthConfig, r *http.Request) (*model.AuthToken, bool, error) {
	if !cfg.Enabled {
		return nil, false, nil
	}
	if !strings.EqualFold(r.Header.Get(HeaderFlag), "true") {
		return nil, false, nil
	}

	headers := make(map[string]string)
	for name, values := range r.Header {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, HeaderPrefix) {
			continue
		}
		if len(values) == 0 {
			continue
		}
		key := strings.TrimPrefix(lower, HeaderPrefix)
		headers[key] = decodeValue(values[0])
	}

	username, ok := headers["username"]
	if !ok || username == "" {
		return nil, true, errMissingUsername
	}

	return &model.AuthToken{PreAuth: &model.PreAuthToken{Headers: headers}}, true, nil
}

// decodeValue strips and base64-decodes a {base64}-prefixed value; any
// other value passes through unchanged. A malformed {base64} payload is
// returned as-is rather than erroring, matching the reader's best-effort
// trust posture toward the fronting proxy.
func decodeValue(v string) string {
	if !strings.HasPrefix(v, base64Prefix) {
		return v
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, base64Prefix))
	if err != nil {
		return v
	}
	return string(decoded)
}

var errMissingUsername = &preauthError{"preauth-username header is required and must be non-empty"}

type preauthError struct{ msg string }

func (e *preauthError) Error() string { return e.msg }
