package config

// EnvPrefix is intentionally empty: every variable carries the PAYHOOK_
// prefix explicitly in its envconfig tag.
const EnvPrefix = ""

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

const (
	EnvAppEnv = "PAYHOOK_APP_ENV"
	EnvDBDSN  = "PAYHOOK_DB_DSN"
	EnvDBHost = "PAYHOOK_DB_HOST"
	EnvDBUser = "PAYHOOK_DB_USER"
	EnvDBName = "PAYHOOK_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
