package internal

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	passphrase []byte
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithPassphrase sets the passphrase used to open the store.
func WithPassphrase(passphrase []byte) Option {
	return func(a *application) {
		a.passphrase = passphrase
	}
}
