// Package ice builds the connectivity-establishment server list handed to
// browsers, minting time-limited TURN REST credentials when a relay is
// configured.
package ice

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/dmitrijs2005/dropwire/internal/logging"
)

const (
	// DefaultTTL is how long minted relay credentials stay valid.
	DefaultTTL = 24 * time.Hour

	userTag     = "dropwire"
	defaultSTUN = "stun:stun.l.google.com:19302"
)

// Server is one entry of the list returned to clients.
type Server struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Minter produces the server list. Safe for concurrent use; all fields are
// read-only after construction.
type Minter struct {
	turnServer   string
	turnSecret   string
	turnsEnabled bool
	ttl          time.Duration
	logger       logging.Logger
	now          func() time.Time
}

func NewMinter(turnServer, turnSecret string, turnsEnabled bool, logger logging.Logger, clock func() time.Time) *Minter {
	if clock == nil {
		clock = time.Now
	}
	return &Minter{
		turnServer:   turnServer,
		turnSecret:   turnSecret,
		turnsEnabled: turnsEnabled,
		ttl:          DefaultTTL,
		logger:       logger.With("module", "ice"),
		now:          clock,
	}
}

// credentials derives the TURN REST username/password pair: the username is
// "<unix-expiry>:<tag>" and the password is base64(HMAC-SHA1(secret, username)).
func (m *Minter) credentials() (username, credential string, err error) {
	if m.turnSecret == "" {
		return "", "", fmt.Errorf("no relay secret configured")
	}
	expiry := m.now().Add(m.ttl).Unix()
	username = fmt.Sprintf("%d:%s", expiry, userTag)

	mac := hmac.New(sha1.New, []byte(m.turnSecret))
	mac.Write([]byte(username))
	credential = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return username, credential, nil
}

// Servers returns the list to advertise. The public STUN entry is always
// present. When a relay is configured, a relay-hosted STUN entry and a
// UDP+TCP TURN pair are appended, plus a TLS TURN entry when enabled.
// Credential problems degrade to the STUN-only default; this endpoint
// never refuses a client.
func (m *Minter) Servers() []Server {
	servers := []Server{{URLs: []string{defaultSTUN}}}

	if m.turnServer == "" {
		return servers
	}

	username, credential, err := m.credentials()
	if err != nil {
		m.logger.Error(context.Background(), "relay credential minting failed", "error", err)
		return servers
	}

	servers = append(servers,
		Server{URLs: []string{fmt.Sprintf("stun:%s:3478", m.turnServer)}},
		Server{
			URLs: []string{
				fmt.Sprintf("turn:%s:3478?transport=udp", m.turnServer),
				fmt.Sprintf("turn:%s:3478?transport=tcp", m.turnServer),
			},
			Username:   username,
			Credential: credential,
		},
	)

	if m.turnsEnabled {
		servers = append(servers, Server{
			URLs:       []string{fmt.Sprintf("turns:%s:5349?transport=tcp", m.turnServer)},
			Username:   username,
			Credential: credential,
		})
	}

	return servers
}
