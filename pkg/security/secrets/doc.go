/*
Package secrets resolves secret references in configuration values.

A value such as

	limits:
	  store:
	    redis:
	      password: ${secret:redis-password}

is resolved at startup by a Manager that asks each provider in turn:

  - EnvProvider reads THROTTLE_SECRET_REDIS_PASSWORD
  - FileProvider reads <dir>/redis-password, which must be mode 0600 or 0400

	m := secrets.NewManager(logger,
		secrets.NewEnvProvider(secrets.DefaultEnvPrefix),
		fileProvider,
	)
	err := m.ResolveAll(ctx, map[string]*string{
		"limits.store.redis.password": &cfg.Limits.Store.Redis.Password,
	})

Secret values are never logged.
*/
package secrets
