// Package validation checks that the engine's required backing services are
// reachable before it starts accepting traffic.
package validation

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/collabfabric/engine/internal/cache"
	"github.com/collabfabric/engine/internal/database"
	"github.com/collabfabric/engine/internal/logger"
)

// ServiceValidator checks connectivity to the services named in
// ENGINE_REQUIRE_* environment variables.
type ServiceValidator struct {
	requiredServices []string
}

// NewServiceValidator creates a new service validator.
func NewServiceValidator() *ServiceValidator {
	return &ServiceValidator{
		requiredServices: parseRequiredServices(),
	}
}

// ValidateServices validates all configured services.
func (sv *ServiceValidator) ValidateServices(ctx context.Context) error {
	if len(sv.requiredServices) == 0 {
		logger.Log.Info("no required services configured for validation")
		return nil
	}

	logger.Log.Info("validating required services", zap.Strings("services", sv.requiredServices))

	services := sv.getServiceChecks()

	for _, serviceName := range sv.requiredServices {
		serviceChecker, ok := services[serviceName]
		if !ok {
			logger.Log.Warn("unknown service type in validation", zap.String("service", serviceName))
			continue
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := serviceChecker(timeoutCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("required service %q validation failed: %w", serviceName, err)
		}

		logger.Log.Info("service validated", zap.String("service", serviceName))
	}

	logger.Log.Info("all required services validated")
	return nil
}

func (sv *ServiceValidator) getServiceChecks() map[string]func(ctx context.Context) error {
	return map[string]func(ctx context.Context) error{
		"redis":    validateRedis,
		"postgres": validatePostgres,
	}
}

// validateRedis checks that Redis is reachable.
func validateRedis(ctx context.Context) error {
	redisHost := getEnvOrDefault("REDIS_HOST", "localhost")
	redisPort := getEnvOrDefault("REDIS_PORT", "6379")
	redisPassword := os.Getenv("REDIS_PASSWORD")

	redisClient, err := cache.NewRedisClient(redisHost, redisPort, redisPassword)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()

	return nil
}

// validatePostgres checks that the document persistence store is reachable.
func validatePostgres(ctx context.Context) error {
	if err := database.Initialize(); err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	return nil
}

// parseRequiredServices reads the ENGINE_REQUIRE_* environment variables and
// returns the list of services that must be reachable at startup.
func parseRequiredServices() []string {
	var required []string

	services := []string{"redis", "postgres"}

	for _, service := range services {
		envVar := fmt.Sprintf("ENGINE_REQUIRE_%s", strings.ToUpper(service))
		if isTruthy(os.Getenv(envVar)) {
			required = append(required, service)
		}
	}

	return required
}

func isTruthy(value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	return value == "1" || value == "true" || value == "yes" || value == "on"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
