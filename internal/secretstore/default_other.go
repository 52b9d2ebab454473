//go:build !darwin

package secretstore

func init() { DefaultBackend = BackendFile }
