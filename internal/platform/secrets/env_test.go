package secrets

import (
	"reflect"
	"testing"
)

func TestVersionPins(t *testing.T) {
	got := versionPins("stripe_api_key=5, PROD:secret://stripe/webhook=3, sm://db/dsn=2, staging:db_dsn=9, broken, =1")
	want := map[string]string{
		"secret://stripe_api_key":      "5",
		"prod:secret://stripe/webhook": "3",
		"secret://db/dsn":              "2",
		"staging:secret://db_dsn":      "9",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("versionPins = %v, want %v", got, want)
	}
}

func TestOptionsFromEnv(t *testing.T) {
	var s settings
	for _, opt := range OptionsFromEnv(map[string]string{
		"API_SECURITY_ENVIRONMENT":      "Prod",
		"API_FIREBASE_PROJECT_ID":       "shop-firebase",
		"API_SECRET_PROJECT_IDS":        "PROD=shop-prod, dev=shop-dev",
		"API_SECRET_VERSION_PINS":       "prod:stripe_api_key=4",
		"API_SECRET_FALLBACK_FILE":      "/etc/shop/secrets.env",
		"API_FIREBASE_CREDENTIALS_FILE": "/etc/shop/sa.json",
	}) {
		opt(&s)
	}

	if s.environment != "prod" || s.project != "shop-firebase" || s.localPath != "/etc/shop/secrets.env" {
		t.Fatalf("unexpected settings %+v", s)
	}
	if !reflect.DeepEqual(s.projects, map[string]string{"prod": "shop-prod", "dev": "shop-dev"}) {
		t.Fatalf("unexpected project map %v", s.projects)
	}
	if s.pins["prod:secret://stripe_api_key"] != "4" {
		t.Fatalf("unexpected pins %v", s.pins)
	}
	if len(s.clientOpts) != 1 {
		t.Fatalf("expected credentials client option, got %d", len(s.clientOpts))
	}

	var empty settings
	for _, opt := range OptionsFromEnv(nil) {
		opt(&empty)
	}
	if empty.project != "" || len(empty.pins) != 0 || len(empty.clientOpts) != 0 {
		t.Fatalf("expected no optional settings from an empty env, got %+v", empty)
	}
}
