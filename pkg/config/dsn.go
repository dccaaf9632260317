package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParsedDatabaseURL is a postgres connection URL broken into the fields
// libpq wants.
type ParsedDatabaseURL struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Options  map[string]string
}

// ParseDatabaseURL parses a postgres:// or postgresql:// URL. Managed
// platforms hand out both spellings, so both are accepted. The port
// defaults to 5432 and sslmode to disable when the URL omits them.
func ParseDatabaseURL(rawURL string) (*ParsedDatabaseURL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("database URL is empty")
	}

	rawURL = strings.Replace(rawURL, "postgresql://", "postgres://", 1)

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if u.Scheme != "postgres" {
		return nil, fmt.Errorf("invalid database URL scheme: %s (expected postgres or postgresql)", u.Scheme)
	}

	parsed := &ParsedDatabaseURL{
		Host:     u.Hostname(),
		Port:     5432,
		Database: strings.TrimPrefix(u.Path, "/"),
		Options:  make(map[string]string),
	}

	if raw := u.Port(); raw != "" {
		parsed.Port, err = strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid port in database URL: %w", err)
		}
	}

	if u.User != nil {
		parsed.User = u.User.Username()
		parsed.Password, _ = u.User.Password()
	}

	for key, values := range u.Query() {
		if len(values) > 0 {
			parsed.Options[key] = values[0]
		}
	}

	// sslmode gets its own field; everything else passes through.
	parsed.SSLMode = "disable"
	if mode, ok := parsed.Options["sslmode"]; ok {
		parsed.SSLMode = mode
		delete(parsed.Options, "sslmode")
	}

	return parsed, nil
}

// ToDSN renders the parsed URL as a key=value DSN for lib/pq.
func (p *ParsedDatabaseURL) ToDSN() string {
	var b strings.Builder
	fmt.Fprintf(&b, "host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
	for key, value := range p.Options {
		fmt.Fprintf(&b, " %s=%s", key, value)
	}
	return b.String()
}
