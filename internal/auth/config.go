package auth

import "time"

// Config carries the process-wide signing key and token lifetimes. The key is
// passed in explicitly at construction, never read from ambient state.
type Config struct {
	Secret     string        `env:"TOKEN_SECRET,required"`
	AccessTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
}
