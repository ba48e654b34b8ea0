package filesystem

import (
	"fmt"
	"os"
)

// Stat queries filesystem metadata for the entry at path. If followSymlinks
// is false, a symbolic link at path is reported as itself (type
// ModeTypeSymbolicLink) rather than being resolved. It returns (nil, nil) if
// the path does not exist, matching the "stat(path) → Stat?" contract: a
// missing path is not an error at this layer.
func Stat(path string, followSymlinks bool) (*Metadata, error) {
	var info os.FileInfo
	var err error
	if followSymlinks {
		info, err = os.Stat(path)
	} else {
		info, err = os.Lstat(path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("unable to stat path: %w", err)
	}
	return metadataFromFileInfo(info), nil
}

// metadataFromFileInfo extracts the portable fields of a Metadata record from
// an os.FileInfo. Device/inode/change-time extraction from the
// platform-specific Sys() value lives in stat_linux.go/stat_darwin.go,
// following the teacher's convention of isolating struct stat field-name
// differences (Ctim vs Ctimespec) behind GOOS-specific files.
func metadataFromFileInfo(info os.FileInfo) *Metadata {
	metadata := &Metadata{
		Name:             info.Name(),
		Size:             uint64(info.Size()),
		ModificationTime: info.ModTime(),
	}

	switch {
	case info.IsDir():
		metadata.Mode = ModeTypeDirectory | Mode(info.Mode().Perm())
	case info.Mode()&os.ModeSymlink != 0:
		metadata.Mode = ModeTypeSymbolicLink
	case info.Mode().IsRegular():
		metadata.Mode = ModeTypeFile | Mode(info.Mode().Perm())
	default:
		// Sockets, devices, named pipes: leave the type bits outside the
		// three recognized types so callers can detect "special" content.
		metadata.Mode = Mode(info.Mode().Perm())
	}

	populatePlatformMetadata(metadata, info)

	return metadata
}
