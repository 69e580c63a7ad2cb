//go:build !unix

package silk

// Without flock a concurrent launch is last writer wins.
func acquireLaunchLock(string) (func(), error) {
	return func() {}, nil
}
