package nettools

import (
	"encoding/base64"
	"net/http"
)

// AuthPlacement says where an Authenticator's credential travels.
type AuthPlacement int

const (
	AuthInHeader AuthPlacement = iota
	AuthInQuery
)

// Authenticator supplies one credential for every outbound call.
type Authenticator interface {
	Placement() AuthPlacement
	// Credential returns the header or query parameter name and its value.
	Credential() (name, value string)
}

type staticAuth struct {
	placement AuthPlacement
	name      string
	value     string
}

func (a staticAuth) Placement() AuthPlacement         { return a.placement }
func (a staticAuth) Credential() (name, value string) { return a.name, a.value }

// HeaderAuth sends value in the named header.
func HeaderAuth(name, value string) Authenticator {
	return staticAuth{placement: AuthInHeader, name: http.CanonicalHeaderKey(name), value: value}
}

// BearerAuth sends "Authorization: Bearer token".
func BearerAuth(token string) Authenticator {
	return HeaderAuth("Authorization", "Bearer "+token)
}

// BasicAuth sends RFC 7617 basic credentials.
func BasicAuth(username, password string) Authenticator {
	raw := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return HeaderAuth("Authorization", "Basic "+raw)
}

// QueryAuth merges name=value into the flattened parameters of every call,
// so it appears in the query string of reads and in the body of writes.
func QueryAuth(name, value string) Authenticator {
	return staticAuth{placement: AuthInQuery, name: name, value: value}
}

// applyAuth places the credential of a into header or params.
func applyAuth(a Authenticator, header http.Header, params Flattened) Flattened {
	if a == nil {
		return params
	}
	name, value := a.Credential()
	switch a.Placement() {
	case AuthInQuery:
		if params == nil {
			params = Flattened{}
		}
		params[name] = value
	default:
		header.Set(name, value)
	}
	return params
}
