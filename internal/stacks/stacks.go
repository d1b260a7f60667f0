package stacks

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/apphost/internal/assembler"
	"github.com/artpar/apphost/internal/core/flags"
	"github.com/artpar/apphost/internal/topology"
)

// Resource and group names.
const (
	GroupObservability = "e-observability"
	GroupHSM           = "d-hsm"
	GroupKeycloak      = "a-keycloak"
	GroupPlatform      = "b-platform"
	GroupPortal        = "c-portal"

	Collector  = "e01-otelcollector"
	HSMSim     = "d01-hsm-sim"
	KeycloakDB = "a01-keycloak-db"
	Keycloak   = "a02-keycloak"
	Azurite    = "azurite"
	FuncApp    = "azure-func"
)

const postgresImage = "postgres:17.6-alpine3.22"

// Register adds every sample builder to a.
func Register(a *assembler.Assembler, cfg Config) {
	a.Register("observability", flags.Always(), observability(cfg))
	a.Register("hsm", flags.Always(), hsm)
	a.Add(assembler.Builder{
		Name: "keycloak",
		When: flags.Always(),
		Requires: assembler.Requirements{
			"KEYCLOAK_ADMIN":          cfg.KeycloakAdmin,
			"KEYCLOAK_ADMIN_PASSWORD": cfg.KeycloakAdminPassword,
			"KEYCLOAK_DB_USER":        cfg.KeycloakDBUser,
			"KEYCLOAK_DB_PASSWORD":    cfg.KeycloakDBPassword,
			"KEYCLOAK_DB":             cfg.KeycloakDB,
		},
		Build: keycloak(cfg),
	})
	a.Add(assembler.Builder{
		Name:     "platform",
		When:     flags.Requires(flags.PlatformBackend),
		Requires: appRequirements("PLATFORM", cfg.Platform),
		Build: application(cfg, appLayout{
			prefix:   "b0",
			app:      "platform",
			group:    GroupPlatform,
			dbPort:   25432,
			apiPort:  5133,
			fePort:   4300,
			frontend: flags.PlatformFull,
			origins:  "https://localhost:7284,http://localhost:5133,http://localhost:4300",
		}, cfg.Platform),
	})
	a.Add(assembler.Builder{
		Name:     "portal",
		When:     flags.Requires(flags.PortalBackend),
		Requires: appRequirements("PORTAL", cfg.Portal),
		Build: application(cfg, appLayout{
			prefix:   "c0",
			app:      "portal",
			group:    GroupPortal,
			dbPort:   35432,
			apiPort:  5100,
			fePort:   4400,
			frontend: flags.PortalFull,
			origins:  "https://localhost:7294,http://localhost:5100,http://localhost:4400",
		}, cfg.Portal),
	})
	a.Register("storage", flags.Requires(flags.FunctionsStorage), storage)
	a.Register("functions", flags.Requires(flags.Functions), functions)
}

func appRequirements(prefix string, app App) assembler.Requirements {
	return assembler.Requirements{
		prefix + "_DB_USER":     app.DBUser,
		prefix + "_DB_PASSWORD": app.DBPassword,
		prefix + "_DB":          app.DB,
	}
}

// =============================================================================
// Observability and HSM
// =============================================================================

func observability(cfg Config) assembler.BuildFunc {
	return func(ctx context.Context, s *assembler.Scope) error {
		c := s.Topology.AddContainer(Collector, "otel/opentelemetry-collector-contrib:0.110.0").
			WithEndpoint(grpc(4317)).
			WithHTTPEndpoint("http", 0, 4318)
		if cfg.CollectorConfig != "" {
			c.WithReadOnlyVolume(cfg.CollectorConfig, "/etc/otelcol-contrib/config.yaml")
		}
		return s.Groups.Attach(c, GroupObservability)
	}
}

func hsm(ctx context.Context, s *assembler.Scope) error {
	sim := s.Topology.AddContainer(HSMSim, "registry.local/utimaco/sim:6.0-debian").
		WithVolume("hsm_sim_devices", "/opt/utimaco/devices").
		WithPortMapping("33001:3001")
	return s.Groups.Attach(sim, GroupHSM)
}

// =============================================================================
// Keycloak
// =============================================================================

func keycloak(cfg Config) assembler.BuildFunc {
	return func(ctx context.Context, s *assembler.Scope) error {
		t := s.Topology
		db := postgres(t, KeycloakDB, 15432, "keycloak_db_data",
			cfg.KeycloakDBUser, cfg.KeycloakDBPassword, cfg.KeycloakDB)

		kc := t.AddContainer(Keycloak, "quay.io/keycloak/keycloak:26.3").
			WaitFor(db).
			WaitForName(Collector).
			WithEnvValue("KC_BOOTSTRAP_ADMIN_USERNAME", cfg.KeycloakAdmin).
			WithEnvValue("KC_BOOTSTRAP_ADMIN_PASSWORD", cfg.KeycloakAdminPassword).
			WithEnvValue("KC_DB", "postgres").
			WithEnvValue("KC_DB_SCHEMA", cfg.KeycloakDBSchema).
			WithEnvValue("KC_DB_URL_HOST", db.Name()).
			WithEnv("KC_DB_URL_PORT", topology.EndpointTargetPort(db.Endpoint("port"))).
			WithEnvValue("KC_DB_USERNAME", cfg.KeycloakDBUser).
			WithEnvValue("KC_DB_PASSWORD", cfg.KeycloakDBPassword).
			WithEnvValue("KC_DB_DATABASE", cfg.KeycloakDB).
			WithEnvValue("KC_HOSTNAME", cfg.KeycloakBaseURL).
			WithEnvValue("KC_HOSTNAME_BACKCHANNEL_DYNAMIC", "true").
			WithEnvValue("KC_METRICS_ENABLED", "true").
			WithEnvValue("KC_HEALTH_ENABLED", "true").
			WithEnv("JAVA_TOOL_OPTIONS", topology.Format(
				"-javaagent:/otel/opentelemetry-javaagent.jar -Dotel.service.name=keycloak "+
					"-Dotel.exporter.otlp.protocol=http/protobuf -Dotel.exporter.otlp.endpoint=http://%s:4318",
				Collector)).
			WithHTTPEndpoint("http", 8080, 8080).
			WithHTTPEndpoint("management", 9000, 9000).
			WithArgs("start-dev", "--import-realm").
			WithExternalEndpoints().
			WithHealthCheck("management", "/health/ready")
		if cfg.KeycloakManagementURL != "" {
			kc.WithEnvValue("KC_HOSTNAME_ADMIN", cfg.KeycloakManagementURL)
		}

		return errors.Join(
			s.Groups.Attach(db, GroupKeycloak),
			s.Groups.Attach(kc, GroupKeycloak),
		)
	}
}

// =============================================================================
// Platform and portal
// =============================================================================

type appLayout struct {
	prefix   string // name prefix, e.g. "b0"
	app      string
	group    string
	dbPort   int
	apiPort  int
	fePort   int
	frontend flags.Feature
	origins  string
}

func application(cfg Config, l appLayout, app App) assembler.BuildFunc {
	return func(ctx context.Context, s *assembler.Scope) error {
		t := s.Topology
		db := postgres(t, fmt.Sprintf("%s1-%s-db", l.prefix, l.app), l.dbPort,
			l.app+"_db_data", app.DBUser, app.DBPassword, app.DB)

		be := t.AddProcess(fmt.Sprintf("%s2-%s-be", l.prefix, l.app),
			"dotnet", "run", "--project", "services/backend/"+l.app).
			WaitFor(db).
			WithHTTPEndpoint("http", l.apiPort, l.apiPort).
			WithEnv("ConnectionStrings__"+l.app+"db", topology.Format(
				"Host=localhost;Port=%s;Database=%s;Username=%s;Password=%s",
				hostPort(db.Endpoint("port")), app.DB, app.DBUser, app.DBPassword)).
			WithEnvValue("Auth__KeycloakBase", cfg.KeycloakBaseURL).
			WithEnvValue("Auth__Realm", app.Realm).
			WithEnvValue("Auth__Audience", app.Audience).
			WithEnvValue("Auth__DocsClientId", app.DocsClientID).
			WithEnvValue("Auth__DocsClientSecret", app.DocsClientSecret).
			WithEnvValue("Auth__DocsCookieName", app.DocsCookieName).
			WithEnvValue("Auth__ScalarClientId", app.ScalarClientID).
			WithEnvValue("Auth__EnableDocs", "True").
			WithEnvValue("Auth__DevCorsOrigins", l.origins).
			WithEnvValue("Auth__RequireHttpsMetadata", "False").
			WithExternalEndpoints()

		errs := []error{
			s.Groups.Attach(db, l.group),
			s.Groups.Attach(be, l.group),
		}
		if s.Features.Enabled(l.frontend) {
			fe := frontend(t, fmt.Sprintf("%s3-%s-fe", l.prefix, l.app), l.app, l.fePort, cfg.FrontendContext)
			errs = append(errs, s.Groups.Attach(fe, l.group))
		}
		return errors.Join(errs...)
	}
}

func frontend(t *topology.Topology, name, app string, hostPort int, buildContext string) *topology.ResourceBuilder {
	fe := t.AddContainer(name, app+"-fe:dev").
		WithEnvValue("NITRO_HOST", "0.0.0.0").
		WithEnvValue("NITRO_PORT", "3000").
		WithHTTPEndpoint("http", hostPort, 3000)
	if buildContext != "" {
		fe.WithProperty("build.context", buildContext).
			WithProperty("build.arg.APP", app)
	}
	return fe
}

func postgres(t *topology.Topology, name string, hostPort int, volume, user, password, db string) *topology.ResourceBuilder {
	return t.AddContainer(name, postgresImage).
		WithEnvValue("POSTGRES_USER", user).
		WithEnvValue("POSTGRES_PASSWORD", password).
		WithEnvValue("POSTGRES_DB", db).
		WithVolume(volume, "/var/lib/postgresql/data").
		WithEndpoint(tcp("port", hostPort, 5432))
}

// =============================================================================
// Storage emulator and function app
// =============================================================================

// Well-known development account of the storage emulator.
const (
	devAccountName = "devstoreaccount1"
	devAccountKey  = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
)

func storage(ctx context.Context, s *assembler.Scope) error {
	s.Topology.AddContainer(Azurite, "mcr.microsoft.com/azure-storage/azurite:3.31.0").
		WithHTTPEndpoint("blob", 10000, 10000).
		WithHTTPEndpoint("queue", 10001, 10001).
		WithHTTPEndpoint("table", 10002, 10002)
	return nil
}

func functions(ctx context.Context, s *assembler.Scope) error {
	s.Topology.AddProcess(FuncApp, "func", "start").
		WithHTTPEndpoint("http", 7071, 7071).
		WithEnv("AzureWebJobsStorage", StorageConnectionString(s.Topology, Azurite)).
		WithEnvValue("FUNCTIONS_WORKER_RUNTIME", "dotnet-isolated").
		WaitForName(Azurite)
	return nil
}

// StorageConnectionString builds the emulator connection string from the
// emulator's allocated endpoints.
func StorageConnectionString(t *topology.Topology, emulator string) *topology.Deferred {
	return topology.Format(
		"DefaultEndpointsProtocol=http;AccountName=%s;AccountKey=%s;"+
			"BlobEndpoint=%s/%s;QueueEndpoint=%s/%s;TableEndpoint=%s/%s;",
		devAccountName, devAccountKey,
		t.Endpoint(emulator, "blob"), devAccountName,
		t.Endpoint(emulator, "queue"), devAccountName,
		t.Endpoint(emulator, "table"), devAccountName,
	)
}
