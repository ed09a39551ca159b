package security

import (
	"os"
	"strings"
)

// sensitiveEnvPrefixes are environment variable prefixes that are stripped
// from subprocess environments.
var sensitiveEnvPrefixes = []string{
	"MTPSCHED_",
	"AWS_SECRET",
	"AWS_SESSION_TOKEN",
	"PGPASS",
	"GITHUB_TOKEN",
	"GH_TOKEN",
	"SMTP_PASSWORD",
}

// sensitiveEnvExact are environment variable names stripped only on an
// exact match, so DB_PORT or DATABASE_HOST survive.
var sensitiveEnvExact = map[string]struct{}{
	"AWS_SECRET_ACCESS_KEY": {},
	"DATABASE_URL":          {},
	"DB_PASSWORD":           {},
	"REDIS_PASSWORD":        {},
}

// SanitizedEnv returns environ with sensitive variables removed. Secrets
// known to r are masked in the values that remain. A nil environ means
// os.Environ(); a nil r masks nothing.
func SanitizedEnv(environ []string, r *Redactor) []string {
	if environ == nil {
		environ = os.Environ()
	}

	var secrets []string
	if r != nil {
		secrets = r.Literals()
	}

	result := make([]string, 0, len(environ))
	for _, entry := range environ {
		key, _, ok := strings.Cut(entry, "=")
		if !ok || isSensitiveEnvVar(key) {
			continue
		}
		for _, secret := range secrets {
			entry = strings.ReplaceAll(entry, secret, RedactPlaceholder)
		}
		result = append(result, entry)
	}
	return result
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	if _, ok := sensitiveEnvExact[upper]; ok {
		return true
	}
	for _, prefix := range sensitiveEnvPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}
