package filesystem

import (
	"os"
	"syscall"
	"time"
)

// populatePlatformMetadata fills in the device/inode/change-time fields of
// metadata from the Darwin struct stat embedded in info.Sys().
func populatePlatformMetadata(metadata *Metadata, info os.FileInfo) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	metadata.DeviceID = uint64(stat.Dev)
	metadata.FileID = uint64(stat.Ino)
	metadata.ChangeTime = time.Unix(stat.Ctimespec.Sec, stat.Ctimespec.Nsec)
}
