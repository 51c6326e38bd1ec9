package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// resolveDSN fills DSN when it is unset. SQLite mode falls back to a local
// file; otherwise the DSN is assembled from the discrete DB_* variables.
func (db *DBConfig) resolveDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
		if db.DSN == "" {
			db.DSN = defaultSQLiteDSN
		}
		return nil
	}
	if db.DSN != "" {
		return nil
	}

	parts := []struct{ env, value string }{
		{EnvDBHost, db.LegacyHost},
		{EnvDBUser, db.LegacyUser},
		{EnvDBName, db.LegacyName},
	}
	var missing []string
	for _, p := range parts {
		if p.value == "" {
			missing = append(missing, p.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("set %s, or all of %s", EnvDBDSN, strings.Join(missing, ", "))
	}

	dsn := url.URL{
		Scheme: "postgres",
		User:   url.User(db.LegacyUser),
		Host:   net.JoinHostPort(db.LegacyHost, strconv.Itoa(db.LegacyPort)),
		Path:   db.LegacyName,
	}
	if db.LegacyPassword != "" {
		dsn.User = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	if db.LegacySSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {db.LegacySSLMode}}.Encode()
	}
	db.DSN = dsn.String()
	return nil
}
