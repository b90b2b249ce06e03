//go:build !protogen

package workerdir

// NewRemoteDirectory returns nil when built without generated gRPC
// clients; callers fall back to the local cache.
func NewRemoteDirectory(_ string) (Directory, error) {
	return nil, nil
}
