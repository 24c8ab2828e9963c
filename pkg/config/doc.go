// Package config loads the dormshare server configuration from DORMSHARE_*
// environment variables.
//
// Token secrets come from DORMSHARE_ACCESS_SECRETS and
// DORMSHARE_REFRESH_SECRETS (comma separated, newest first) or from the YAML
// file named by DORMSHARE_SECRETS_FILE. The file is watched with
// WatchSecrets so secrets rotate without a restart:
//
//	w, err := config.WatchSecrets(cfg.Auth.SecretsFile, func(s *config.Secrets) {
//		// swap the codec key rings
//	}, logger)
//	defer w.Close()
package config
