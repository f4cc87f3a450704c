package gateway

import (
	"encoding/base64"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nethesis/matrix2irc/ircwire"
	"github.com/nethesis/matrix2irc/logger"
)

// saslState tracks the single in-flight SASL exchange a connection may
// have open. The dispatcher only supports PLAIN, matching spec.md's
// scoping of SASL to an external collaborator: the core never sees
// credentials, only a successfully registered connection.
type saslState struct {
	mechanism string
}

// handleAuthenticate implements the two-message SASL PLAIN dance:
// AUTHENTICATE PLAIN -> "AUTHENTICATE +", then AUTHENTICATE <base64>
// carrying NUL-separated authzid/authcid/password. When the password
// parses as a JWT, its claims are logged as login hints before the
// gateway hands the credential, unchanged, on to matrixclient.New - the same
// claim-extraction idiom as the teacher's authclient.go, minus the
// manual base64 slicing since golang-jwt can parse it unverified
// directly.
func (g *Gateway) handleAuthenticate(cmd *ircwire.Command) {
	if len(cmd.Params) == 0 {
		return
	}
	payload := cmd.Params[0]

	if g.sasl == nil {
		if strings.ToUpper(payload) != "PLAIN" {
			g.Send(&ircwire.Command{Source: g.ServerName, Command: "904", Params: []string{g.Conn.Nick(), "SASL authentication failed"}})
			return
		}
		g.sasl = &saslState{mechanism: "PLAIN"}
		g.Send(&ircwire.Command{Source: g.ServerName, Command: "AUTHENTICATE", Params: []string{"+"}})
		return
	}

	defer func() { g.sasl = nil }()

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		g.Send(&ircwire.Command{Source: g.ServerName, Command: "904", Params: []string{g.Conn.Nick(), "SASL authentication failed"}})
		return
	}

	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		g.Send(&ircwire.Command{Source: g.ServerName, Command: "904", Params: []string{g.Conn.Nick(), "SASL authentication failed"}})
		return
	}
	authcid, password := parts[1], parts[2]
	g.password = password

	if claims, ok := unverifiedJWTClaims(password); ok {
		logger.Debug().Str("authcid", authcid).Interface("claims", claims).Msg("gateway: SASL password parsed as JWT, forwarding login hints")
	}

	g.Conn.SetNick(authcid)
	g.Send(&ircwire.Command{Source: g.ServerName, Command: "900", Params: []string{g.Conn.Nick(), g.Conn.Nick(), authcid, "You are now logged in as " + authcid}})
	g.Send(&ircwire.Command{Source: g.ServerName, Command: "903", Params: []string{g.Conn.Nick(), "SASL authentication successful"}})
}

// unverifiedJWTClaims decodes token's claims without verifying its
// signature - the gateway has no standing relationship with whatever
// identity provider issued it, it only wants login hints (subject,
// preferred username). The claims are only logged; they are not sent to
// the homeserver.
func unverifiedJWTClaims(token string) (jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return nil, false
	}
	return claims, true
}
