package config

const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv           = "STOREFRONT_APP_ENV"
	EnvPort             = "STOREFRONT_APP_PORT"
	EnvDBDSN            = "STOREFRONT_DB_DSN"
	EnvDBDriver         = "STOREFRONT_DB_DRIVER"
	EnvDBHost           = "STOREFRONT_DB_HOST"
	EnvDBUser           = "STOREFRONT_DB_USER"
	EnvDBName           = "STOREFRONT_DB_NAME"
	EnvRedisURL         = "STOREFRONT_REDIS_URL"
	EnvJWTSecret        = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer        = "STOREFRONT_JWT_ISSUER"
	EnvJWTExpMins       = "STOREFRONT_JWT_EXPIRATION_MINUTES"
	EnvShippingFeeCents = "STOREFRONT_CHECKOUT_SHIPPING_FEE_CENTS"
	EnvVATRatePercent   = "STOREFRONT_CHECKOUT_VAT_RATE_PERCENT"
	EnvGCPProjectID     = "STOREFRONT_GCP_PROJECT_ID"
	EnvConfirmTopic     = "STOREFRONT_PUBSUB_ORDER_CONFIRMATION_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
