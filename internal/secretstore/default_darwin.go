//go:build darwin

package secretstore

func init() { DefaultBackend = BackendKeyring }
