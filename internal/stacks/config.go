// Package stacks declares the sample application host: observability,
// HSM simulator, Keycloak, the platform and portal applications and the
// storage emulator with its function app.
package stacks

import "strings"

// Config carries the credentials and URLs the builders need.
type Config struct {
	KeycloakAdmin         string
	KeycloakAdminPassword string
	KeycloakDBUser        string
	KeycloakDBPassword    string
	KeycloakDB            string
	KeycloakDBSchema      string
	KeycloakBaseURL       string
	KeycloakManagementURL string

	Platform App
	Portal   App

	// FrontendContext is the build context of the frontend images.
	FrontendContext string
	// CollectorConfig is mounted into the OpenTelemetry collector.
	CollectorConfig string
}

// App is the configuration of one backend application.
type App struct {
	DBUser           string
	DBPassword       string
	DB               string
	Realm            string
	Audience         string
	DocsClientID     string
	DocsClientSecret string
	DocsCookieName   string
	ScalarClientID   string
}

// Lookup returns the value of a secrets key such as "KEYCLOAK_DB_USER".
type Lookup func(key string) string

// ConfigFrom reads a Config through get, using the variable names of the
// secrets dotenv file.
func ConfigFrom(get Lookup) Config {
	return Config{
		KeycloakAdmin:         get("KEYCLOAK_ADMIN"),
		KeycloakAdminPassword: get("KEYCLOAK_ADMIN_PASSWORD"),
		KeycloakDBUser:        get("KEYCLOAK_DB_USER"),
		KeycloakDBPassword:    get("KEYCLOAK_DB_PASSWORD"),
		KeycloakDB:            get("KEYCLOAK_DB"),
		KeycloakDBSchema:      get("KEYCLOAK_DB_SCHEMA"),
		KeycloakBaseURL:       get("KEYCLOAK_BASE_URL"),
		KeycloakManagementURL: get("KEYCLOAK_MANAGEMENT_URL"),
		Platform:              appFrom(get, "PLATFORM"),
		Portal:                appFrom(get, "PORTAL"),
		FrontendContext:       get("FRONTEND_CONTEXT"),
		CollectorConfig:       get("COLLECTOR_CONFIG"),
	}
}

func appFrom(get Lookup, prefix string) App {
	key := func(s string) string { return strings.ToUpper(prefix) + "_" + s }
	return App{
		DBUser:           get(key("DB_USER")),
		DBPassword:       get(key("DB_PASSWORD")),
		DB:               get(key("DB")),
		Realm:            get(key("REALM")),
		Audience:         get(key("AUDIENCE")),
		DocsClientID:     get(key("DOCS_CLIENT_ID")),
		DocsClientSecret: get(key("DOCS_CLIENT_SECRET")),
		DocsCookieName:   get(key("DOCS_COOKIE_NAME")),
		ScalarClientID:   get(key("SCALAR_CLIENT_ID")),
	}
}
