package config

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultEnvFile           = ".env"
	defaultPort              = "8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultEnvironment       = "local"
	defaultMailFrom          = "orders@ambercart.example"
	defaultCheckoutSuccess   = "https://shop.ambercart.example/checkout/success"
	defaultCheckoutCancelled = "https://shop.ambercart.example/checkout/cancelled"

	secretRefPrefix = "secret://"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Stripe    StripeConfig
	PubSub    PubSubConfig
	Mail      MailConfig
	Runtime   RuntimeConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StripeConfig collects payment provider credentials and storefront return URLs.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// PubSubConfig names the topic order lifecycle events are published to.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// MailConfig configures outbound notification email headers.
type MailConfig struct {
	FromAddress  string
	ReplyTo      string
	StoreName    string
	StorefrontURL string
}

// RuntimeConfig groups deployment environment settings.
type RuntimeConfig struct {
	Environment string
}

// IsProduction reports whether the service runs in a production environment.
func (r RuntimeConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(r.Environment), "production")
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map taking precedence over system env.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver wires the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the runtime configuration from the environment. Values of the
// form secret://... are resolved through the configured SecretResolver.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	values, err := environmentValues(options)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key, fallback string) string {
		if value, ok := values[key]; ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
		return fallback
	}

	resolve := func(key, fallback string) (string, error) {
		value := lookup(key, fallback)
		if !strings.HasPrefix(value, secretRefPrefix) {
			return value, nil
		}
		if options.secret == nil {
			return "", fmt.Errorf("config: %s references a secret but no resolver is configured", key)
		}
		resolved, err := options.secret.ResolveSecret(ctx, strings.TrimPrefix(value, secretRefPrefix))
		if err != nil {
			return "", fmt.Errorf("config: resolve %s: %w", key, err)
		}
		return strings.TrimSpace(resolved), nil
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         lookup("PORT", defaultPort),
			ReadTimeout:  durationValue(values, "SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationValue(values, "SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationValue(values, "SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    lookup("FIRESTORE_PROJECT_ID", lookup("GOOGLE_CLOUD_PROJECT", "")),
			EmulatorHost: lookup("FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        lookup("PUBSUB_PROJECT_ID", lookup("GOOGLE_CLOUD_PROJECT", "")),
			OrderEventsTopic: lookup("PUBSUB_ORDER_EVENTS_TOPIC", ""),
		},
		Mail: MailConfig{
			FromAddress:   lookup("MAIL_FROM_ADDRESS", defaultMailFrom),
			ReplyTo:       lookup("MAIL_REPLY_TO", ""),
			StoreName:     lookup("MAIL_STORE_NAME", "Ambercart"),
			StorefrontURL: lookup("STOREFRONT_URL", "https://shop.ambercart.example"),
		},
		Runtime: RuntimeConfig{
			Environment: strings.ToLower(lookup("ENVIRONMENT", defaultEnvironment)),
		},
	}

	stripeKey, err := resolve("STRIPE_API_KEY", "")
	if err != nil {
		return Config{}, err
	}
	webhookSecret, err := resolve("STRIPE_WEBHOOK_SECRET", "")
	if err != nil {
		return Config{}, err
	}
	cfg.Stripe = StripeConfig{
		APIKey:        stripeKey,
		WebhookSecret: webhookSecret,
		SuccessURL:    lookup("CHECKOUT_SUCCESS_URL", defaultCheckoutSuccess),
		CancelURL:     lookup("CHECKOUT_CANCEL_URL", defaultCheckoutCancelled),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "PORT")
	}
	if strings.TrimSpace(c.Firestore.ProjectID) == "" && strings.TrimSpace(c.Firestore.EmulatorHost) == "" {
		missing = append(missing, "FIRESTORE_PROJECT_ID")
	}
	if c.Runtime.IsProduction() {
		if strings.TrimSpace(c.Stripe.APIKey) == "" {
			missing = append(missing, "STRIPE_API_KEY")
		}
		if strings.TrimSpace(c.Stripe.WebhookSecret) == "" {
			missing = append(missing, "STRIPE_WEBHOOK_SECRET")
		}
	}
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func environmentValues(options loaderOptions) (map[string]string, error) {
	values := make(map[string]string)
	merge := func(source map[string]string) {
		for key, value := range source {
			values[key] = value
		}
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	merge(dotEnvValues)

	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
				continue
			}
			values[strings.TrimSpace(parts[0])] = parts[1]
		}
	}

	merge(options.envMap)
	return values, nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: open env file %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"'`)
		if key != "" {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read env file %s: %w", path, err)
	}
	return values, nil
}

func durationValue(values map[string]string, key string, fallback time.Duration) time.Duration {
	raw, ok := values[key]
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
