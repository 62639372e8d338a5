package env

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

var Env map[string]string

func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok {
		return val
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// SetupEnvFile loads the first .env file found. Containers usually pass plain
// environment variables, so a missing file is not an error.
func SetupEnvFile() bool {
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/tenantly to project root
		"../../../.env", // Fallback for deeper nesting
	}

	for _, envFile := range envFiles {
		loaded, err := godotenv.Read(envFile)
		if err == nil {
			Env = loaded
			return true
		}
	}

	Env = map[string]string{}
	return false
}

// RegionDatabaseURL returns the connection string configured for a data
// residency region. DATABASE_URL_<REGION> wins over the older REGION_<REGION>
// naming. An empty string means no regional credential exists.
func RegionDatabaseURL(region string) string {
	key := RegionKey(region)
	if key == "" {
		return ""
	}
	if v := GetEnv("DATABASE_URL_"+key, ""); v != "" {
		return v
	}
	return GetEnv("REGION_"+key, "")
}

// RegionKey normalises a region name into the env var suffix ("eu-west" -> "EU_WEST").
func RegionKey(region string) string {
	r := strings.TrimSpace(region)
	if r == "" {
		return ""
	}
	r = strings.ToUpper(r)
	return strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(r)
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
