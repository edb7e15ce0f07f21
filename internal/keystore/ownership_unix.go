//go:build unix

package keystore

import (
	"fmt"
	"os"
	"syscall"

	"github.com/synthfi-arb/arb/internal/apperr"
)

// checkOwnership verifies the directory's owning uid matches both the
// real and effective uid of the running process (§4.8: "caller is owner,
// real AND effective uid match").
func checkOwnership(info os.FileInfo, path string) error {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("%w: cannot determine owner of %s on this platform", apperr.ErrInternal, path)
	}
	owner := int(stat.Uid)
	real, effective := os.Getuid(), os.Geteuid()
	if owner != real || owner != effective {
		return fmt.Errorf("%w: key store directory %s is owned by uid %d, process uids are real=%d effective=%d",
			apperr.ErrPermission, path, owner, real, effective)
	}
	return nil
}
