package secrets

import (
	"strings"

	"google.golang.org/api/option"
)

// OptionsFromEnv builds fetcher options from the API_* variables both binaries read before
// config.Load can run:
//
//	API_SECURITY_ENVIRONMENT       environment label (default local)
//	API_SECRET_DEFAULT_PROJECT_ID  project, falling back to API_FIREBASE_PROJECT_ID
//	API_SECRET_PROJECT_IDS         env=project,...
//	API_SECRET_VERSION_PINS        [env:]ref=version,...
//	API_SECRET_FALLBACK_FILE       local dotenv file (default .secrets.local)
//	API_FIREBASE_CREDENTIALS_FILE  service account key for Secret Manager
func OptionsFromEnv(env map[string]string) []Option {
	get := func(key string) string { return strings.TrimSpace(env[key]) }

	opts := []Option{WithEnvironment(get("API_SECURITY_ENVIRONMENT"))}
	if path := get("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, WithFallbackFile(path))
	}
	if project := firstSet(get("API_SECRET_DEFAULT_PROJECT_ID"), get("API_FIREBASE_PROJECT_ID")); project != "" {
		opts = append(opts, WithDefaultProject(project))
	}
	if projects := splitPairs(get("API_SECRET_PROJECT_IDS")); len(projects) > 0 {
		lowered := make(map[string]string, len(projects))
		for envName, project := range projects {
			lowered[strings.ToLower(envName)] = project
		}
		opts = append(opts, WithProjectMap(lowered))
	}
	if pins := versionPins(get("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, WithVersionPins(pins))
	}
	if creds := get("API_FIREBASE_CREDENTIALS_FILE"); creds != "" {
		opts = append(opts, WithClientOptions(option.WithCredentialsFile(creds)))
	}
	return opts
}

// versionPins keys each pin the way Fetcher looks it up: the canonical reference name,
// optionally prefixed by a lower-case environment and a colon.
func versionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for key, version := range splitPairs(raw) {
		envName, ref := "", key
		if !strings.Contains(key, "://") || strings.Index(key, ":") < strings.Index(key, "://") {
			if head, tail, ok := strings.Cut(key, ":"); ok && head != "" {
				envName, ref = strings.ToLower(head)+":", tail
			}
		}
		if !strings.Contains(ref, "://") {
			ref = "secret://" + ref
		}
		parsed, err := ParseReference(ref)
		if err != nil {
			continue
		}
		pins[envName+parsed.Name] = version
	}
	return pins
}

// splitPairs reads "k=v,k2=v2", skipping malformed or blank entries.
func splitPairs(raw string) map[string]string {
	out := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(entry, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if ok && key != "" && value != "" {
			out[key] = value
		}
	}
	return out
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
