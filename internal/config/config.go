package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port            int
	DataPath        string
	DBPath          string
	UploadPath      string
	ScreenshotPath  string
	WhisperURL      string
	DefaultLanguage string
	DefaultModel    string
	MaxUploadSize   int64
	Workers         int
	RetainOriginals int
	JWTSecret       string
	AdminUsername   string
	AdminPassword   string
	CORSOrigins     []string
}

func Load() *Config {
	port, _ := strconv.Atoi(getEnv("PORT", "8080"))
	dataPath := getEnv("DATA_PATH", "/data")

	maxUpload := int64(500 * 1024 * 1024)
	if v := os.Getenv("MAX_UPLOAD_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			maxUpload = n
		}
	}

	workers, _ := strconv.Atoi(getEnv("WORKERS", "2"))
	if workers < 1 {
		workers = 1
	}

	retain, _ := strconv.Atoi(getEnv("RETAIN_ORIGINALS", "50"))

	// JWT secret: require explicit setting or generate random
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			log.Fatalf("Failed to generate random JWT secret: %v", err)
		}
		jwtSecret = hex.EncodeToString(b)
		log.Println("WARNING: JWT_SECRET not set, using random secret. Admin sessions will not survive restarts. Set JWT_SECRET env var for persistent sessions.")
	}

	// CORS origins: comma-separated list or "*" (default)
	corsOrigins := []string{"*"}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		corsOrigins = make([]string, 0, len(origins))
		for _, o := range origins {
			o = strings.TrimSpace(o)
			if o != "" {
				corsOrigins = append(corsOrigins, o)
			}
		}
	}

	return &Config{
		Port:            port,
		DataPath:        dataPath,
		DBPath:          getEnv("DB_PATH", dataPath+"/transcribehub.db"),
		UploadPath:      getEnv("UPLOAD_PATH", dataPath+"/uploads"),
		ScreenshotPath:  getEnv("SCREENSHOT_PATH", dataPath+"/screenshots"),
		WhisperURL:      getEnv("WHISPER_URL", "http://localhost:9000"),
		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "ru"),
		DefaultModel:    getEnv("DEFAULT_MODEL", "base"),
		MaxUploadSize:   maxUpload,
		Workers:         workers,
		RetainOriginals: retain,
		JWTSecret:       jwtSecret,
		AdminUsername:   getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:   getEnv("ADMIN_PASSWORD", "admin"),
		CORSOrigins:     corsOrigins,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
