package clickhouse

import "time"

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

// ClientConfig holds the DSN parts and pool sizing of a Client.
type ClientConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	UseHTTP  bool

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration

	// insert and query settings, sent as DSN parameters
	AsyncInsert  bool
	WaitForAsync bool
	MaxExecTime  time.Duration

	CreateDatabase bool
}

// WithAddr sets host and port. Port 9000 is native, 8123 is HTTP.
func WithAddr(host string, port int) ClientOption {
	return func(c *ClientConfig) {
		c.Host = host
		if port > 0 {
			c.Port = port
		}
	}
}

// WithDatabase binds the pool to database, creating it first when create
// is set.
func WithDatabase(database string, create bool) ClientOption {
	return func(c *ClientConfig) {
		c.Database = database
		c.CreateDatabase = create
	}
}

func WithCredentials(user, password string) ClientOption {
	return func(c *ClientConfig) {
		c.User = user
		c.Password = password
	}
}

func WithHTTP(useHTTP bool) ClientOption {
	return func(c *ClientConfig) { c.UseHTTP = useHTTP }
}

// WithPool sizes the database/sql pool.
func WithPool(maxOpen, maxIdle int, lifetime time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.MaxOpenConns = maxOpen
		c.MaxIdleConns = maxIdle
		if lifetime > 0 {
			c.ConnMaxLifetime = lifetime
		}
	}
}

func WithTimeouts(dial, read time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.DialTimeout = dial
		c.ReadTimeout = read
	}
}

// WithQuerySettings enables async_insert (optionally waiting for the flush)
// and caps max_execution_time.
func WithQuerySettings(asyncInsert, wait bool, maxExec time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.AsyncInsert = asyncInsert
		c.WaitForAsync = wait
		c.MaxExecTime = maxExec
	}
}
