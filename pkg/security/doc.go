/*
Package security groups the pieces throttle needs to reach a shared store
safely: client TLS for Redis and secret resolution for its credentials.

# Redis TLS

The tls subpackage turns the redis.tls config block into a *tls.Config. A
client certificate is watched on disk and swapped in without a restart:

	tlsConfig, reloader, err := tls.ClientConfig(&cfg.Limits.Store.Redis.TLS)
	if err != nil {
		return err
	}
	if reloader != nil {
		reloader.Start(ctx)
		defer reloader.Close()
	}

# Secrets

Config values may carry ${secret:name} references. The secrets subpackage
resolves them from the environment (THROTTLE_SECRET_<NAME>) or from files
in a mounted directory:

	file, _ := secrets.NewFileProvider("/run/secrets")
	manager := secrets.NewManager(logger,
		secrets.NewEnvProvider("THROTTLE_SECRET_"),
		file,
	)
	err := manager.ResolveAll(ctx, map[string]*string{
		"limits.store.redis.password": &cfg.Limits.Store.Redis.Password,
	})
*/
package security
