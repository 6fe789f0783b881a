package gateway

import "crypto/subtle"

// DevMode is the optional elevated-access block of a query.
type DevMode struct {
	Token         string `json:"token"`
	AllowExternal bool   `json:"allow_external"`
}

// DevGate validates elevated-access requests against the configured token.
// A gate built with an empty token never grants access.
type DevGate struct {
	token []byte
}

func NewDevGate(token string) *DevGate {
	return &DevGate{token: []byte(token)}
}

// Enabled reports whether a token is configured.
func (g *DevGate) Enabled() bool { return len(g.token) > 0 }

// Elevated reports whether dm grants elevated access. Anything short of a
// valid token with allow_external set simply means "not elevated".
func (g *DevGate) Elevated(dm *DevMode) bool {
	if !g.Enabled() || dm == nil || !dm.AllowExternal {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(dm.Token), g.token) == 1
}
