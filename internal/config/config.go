// Package config содержит общие для клиента и сервера имена окружений.
package config

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Known проверяет, что окружение входит в список поддерживаемых
func Known(env string) bool {
	switch env {
	case EnvLocal, EnvDev, EnvProd:
		return true
	}
	return false
}
