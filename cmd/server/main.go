package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/collabfabric/engine/internal/cache"
	"github.com/collabfabric/engine/internal/config"
	"github.com/collabfabric/engine/internal/database"
	"github.com/collabfabric/engine/internal/fabric"
	"github.com/collabfabric/engine/internal/logger"
	"github.com/collabfabric/engine/internal/middleware"
	"github.com/collabfabric/engine/internal/registry"
	"github.com/collabfabric/engine/internal/session"
	"github.com/collabfabric/engine/internal/telemetry"
	"github.com/collabfabric/engine/internal/validation"
	"github.com/collabfabric/engine/internal/websocket"
)

func main() {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "server.log"
	}

	if err := logger.Initialize(logLevel, logFile); err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Close()

	logger.Log.Info("=== collaborative editing engine starting ===")

	if err := godotenv.Load(); err != nil {
		logger.Log.Warn("Warning: .env file not found, using system environment variables")
	}

	var tracerProvider *trace.TracerProvider
	if os.Getenv("OTEL_ENABLED") == "true" {
		cfg := telemetry.Config{
			ServiceName:  getEnvOrDefault("OTEL_SERVICE_NAME", "collabfabric-engine"),
			Environment:  getEnvOrDefault("OTEL_ENVIRONMENT", "development"),
			OTLPEndpoint: getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			Enabled:      true,
			SamplingRate: getEnvFloat("OTEL_TRACE_SAMPLER_RATE", 1.0),
		}

		var tracerErr error
		tracerProvider, tracerErr = telemetry.InitTracer(cfg)
		if tracerErr != nil {
			logger.Log.Warn("Failed to initialize OpenTelemetry", zap.Error(tracerErr))
		} else {
			logger.Log.Info("OpenTelemetry tracing enabled",
				zap.String("service", cfg.ServiceName),
				zap.Float64("sampling_rate", cfg.SamplingRate),
				zap.String("endpoint", cfg.OTLPEndpoint),
			)
			defer func() {
				if tracerProvider != nil {
					if shutdownErr := tracerProvider.Shutdown(context.Background()); shutdownErr != nil {
						logger.Log.Error("Failed to shutdown tracer provider", zap.Error(shutdownErr))
					}
				}
			}()
		}
	}

	validationCtx, cancelValidation := context.WithTimeout(context.Background(), 30*time.Second)
	if err := validation.NewServiceValidator().ValidateServices(validationCtx); err != nil {
		cancelValidation()
		logger.FatalWithFields("Required service validation failed", err)
	}
	cancelValidation()

	redisHost := getEnvOrDefault("REDIS_HOST", "localhost")
	redisPort := getEnvOrDefault("REDIS_PORT", "6379")
	redisPassword := os.Getenv("REDIS_PASSWORD")

	redisClient, err := cache.NewRedisClient(redisHost, redisPort, redisPassword)
	if err != nil {
		logger.FatalWithFields("Failed to connect to Redis", err)
	}
	defer func() {
		_ = redisClient.Close()
	}()

	engineCfg := config.LoadEngineConfig()

	if engineCfg.PersistenceEnabled {
		if err := database.Initialize(); err != nil {
			logger.FatalWithFields("Failed to initialize database", err)
		}
		if err := database.Migrate(); err != nil {
			logger.FatalWithFields("Failed to run migrations", err)
		}
		defer func() {
			if err := database.Close(); err != nil {
				logger.ErrorWithFields("Error closing database", err)
			}
		}()
	} else {
		logger.Log.Info("Persistence disabled (ENGINE_PERSISTENCE_ENABLED=false), documents are in-memory only")
	}

	jwtSecret := []byte(os.Getenv("JWT_SECRET"))
	if len(jwtSecret) == 0 {
		logger.FatalWithFields("JWT_SECRET environment variable is required", nil)
	}

	instanceID := getEnvOrDefault("INSTANCE_ID", uuid.NewString())
	instanceAddr := getEnvOrDefault("INSTANCE_ADDRESS", "localhost:"+getEnvOrDefault("PORT", "8787"))

	transformCache := cache.NewTransformCache(redisClient, engineCfg.CacheTTL)

	fab := fabric.New(redisClient.Raw(), instanceID, engineCfg.FabricRetention, engineCfg.FabricMaxMessageSize, engineCfg.AckRequired)

	var store *database.CheckpointStore
	if engineCfg.PersistenceEnabled {
		store = database.NewCheckpointStore()
	}

	manager := session.New(engineCfg, store, fab, transformCache, instanceID)

	var loadBalancerStrategy registry.Strategy
	switch engineCfg.LoadBalancerStrategy {
	case "round_robin":
		loadBalancerStrategy = registry.StrategyRoundRobin
	case "random":
		loadBalancerStrategy = registry.StrategyRandom
	default:
		loadBalancerStrategy = registry.StrategyLeastConnections
	}
	instanceRegistry := registry.New(30*time.Second, loadBalancerStrategy)

	stopHeartbeat := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				activeCount := len(manager.ActiveDocuments())
				instanceRegistry.Heartbeat(instanceID, instanceAddr, activeCount, activeCount, time.Now())
				if redisClient != nil {
					heartbeatKey := "instance:" + instanceID + ":heartbeat"
					_ = redisClient.SetEx(context.Background(), heartbeatKey, instanceAddr, 30*time.Second)
				}
			case <-stopHeartbeat:
				return
			}
		}
	}()
	defer close(stopHeartbeat)

	stopGapSweep := make(chan struct{})
	go func() {
		ticker := time.NewTicker(engineCfg.SequenceGapTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				manager.SweepGaps(time.Now())
			case <-stopGapSweep:
				return
			}
		}
	}()
	defer close(stopGapSweep)

	hub := websocket.NewHub()
	go hub.Run()
	wsHandler := websocket.NewHandler(hub, jwtSecret)
	wsHandler.RegisterCollabHandlers(manager)

	r := gin.New()

	corsConfig := cors.DefaultConfig()
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins != "" {
		corsConfig.AllowOrigins = strings.FieldsFunc(allowedOrigins, func(r rune) bool { return r == ',' })
		validOrigins := make([]string, 0, len(corsConfig.AllowOrigins))
		for _, origin := range corsConfig.AllowOrigins {
			origin = strings.TrimSpace(origin)
			if origin == "*" || strings.Contains(origin, "*") {
				logger.Log.Warn("CORS misconfiguration: wildcard origins are not allowed", zap.String("rejected_origin", origin))
				continue
			}
			if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
				logger.Log.Warn("CORS misconfiguration: origin must use http:// or https://", zap.String("rejected_origin", origin))
				continue
			}
			validOrigins = append(validOrigins, origin)
		}
		if len(validOrigins) == 0 {
			validOrigins = []string{"http://localhost:3000"}
		}
		corsConfig.AllowOrigins = validOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Requested-With", "Accept"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 86400
	r.Use(cors.New(corsConfig))

	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.GinLoggerMiddleware())

	if os.Getenv("OTEL_ENABLED") == "true" {
		r.Use(middleware.TracingMiddleware("collabfabric-engine"))
	}

	r.Use(gin.Recovery())

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{
		"/api/v1/ws",
		"/api/v1/ws/connect",
		"/metrics",
	})))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"service":   "collabfabric-engine",
			"instance":  instanceID,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit())
	{
		docs := api.Group("/documents")
		docs.Use(jwtAuthMiddleware(jwtSecret))
		{
			docs.GET("/active", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"active_documents": manager.ActiveDocuments()})
			})
			docs.GET("/instances", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"instances": instanceRegistry.Instances()})
			})
		}

		ws := api.Group("/ws")
		{
			ws.GET("/metrics", jwtAuthMiddleware(jwtSecret), wsHandler.HandleMetrics)
			ws.POST("/online", jwtAuthMiddleware(jwtSecret), wsHandler.HandleOnlineStatus)
		}
	}

	port := getEnvOrDefault("PORT", "8787")

	// WebSocket upgrade requests bypass Gin's ResponseWriter wrapper, which
	// interferes with connection hijacking.
	handler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/api/v1/ws" || req.URL.Path == "/api/v1/ws/connect" {
			wsHandler.HandleWebSocketHTTP(w, req)
			return
		}
		r.ServeHTTP(w, req)
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler,
	}

	go func() {
		logger.Log.Info("collaborative editing engine listening", zap.String("port", port), zap.String("instance", instanceID))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithFields("Failed to start server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("shutting down, draining active sessions")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := wsHandler.Shutdown(ctx); err != nil {
		logger.WarnWithFields("WebSocket shutdown warning", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.ErrorWithFields("Server forced to shutdown", err)
	}

	logger.Log.Info("server exited")
}

// jwtAuthMiddleware validates the bearer token and stores the author id
// (the user_id claim) in the Gin context. There is no
// durable user store in this service; the claims themselves are the
// identity.
func jwtAuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			return
		}
		userID, ok := claims["user_id"].(string)
		if !ok || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id not found in token"})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
