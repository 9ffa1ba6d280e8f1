package db

import "strings"

// connKeys are the libpq keywords that mark a keyword/value connection string.
var connKeys = map[string]bool{
	"host": true, "hostaddr": true, "port": true, "user": true,
	"password": true, "dbname": true, "sslmode": true,
}

// NormalizeDSN tidies DATABASE_URL as it tends to arrive from .env files and
// container environments. URLs pass through once unquoted. Keyword/value
// strings are collapsed onto one line and get sslmode=disable unless they set
// their own; anything else is returned as is for the driver to reject.
func NormalizeDSN(raw string) string {
	dsn := strings.Trim(strings.TrimSpace(raw), `"'`)
	if dsn == "" || isURLDSN(dsn) {
		return dsn
	}
	fields := strings.Fields(dsn)
	known, hasSSL := false, false
	for _, f := range fields {
		key, _, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(key)
		known = known || connKeys[key]
		hasSSL = hasSSL || key == "sslmode"
	}
	if !known {
		return dsn
	}
	if !hasSSL {
		fields = append(fields, "sslmode=disable")
	}
	return strings.Join(fields, " ")
}

func isURLDSN(dsn string) bool {
	scheme, _, ok := strings.Cut(dsn, "://")
	if !ok {
		return false
	}
	scheme = strings.ToLower(scheme)
	return scheme == "postgres" || scheme == "postgresql"
}
