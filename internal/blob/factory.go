package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	"labexec/internal/infra/blob/fs"
	"labexec/internal/infra/blob/memory"
	"labexec/internal/infra/blob/s3"
)

// Options selects and configures a backend.
type Options struct {
	Driver      Driver
	FSRoot      string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

// OptionsFromEnv reads blob settings from the environment.
//
//	LABEXEC_BLOB_DRIVER: fs|s3|memory (default fs)
//	LABEXEC_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	LABEXEC_BLOB_S3_BUCKET, LABEXEC_BLOB_S3_REGION, LABEXEC_BLOB_S3_ENDPOINT,
//	LABEXEC_BLOB_S3_PATH_STYLE: s3 settings; credentials come from the AWS chain
func OptionsFromEnv() Options {
	return Options{
		Driver:      Driver(os.Getenv("LABEXEC_BLOB_DRIVER")),
		FSRoot:      os.Getenv("LABEXEC_BLOB_FS_ROOT"),
		S3Bucket:    os.Getenv("LABEXEC_BLOB_S3_BUCKET"),
		S3Region:    os.Getenv("LABEXEC_BLOB_S3_REGION"),
		S3Endpoint:  os.Getenv("LABEXEC_BLOB_S3_ENDPOINT"),
		S3PathStyle: strings.EqualFold(os.Getenv("LABEXEC_BLOB_S3_PATH_STYLE"), "true"),
	}
}

// Open constructs the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		store, err := fs.New(opts.FSRoot)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverMemory:
		return memory.New(), nil
	case DriverS3:
		if opts.S3Bucket == "" {
			return nil, fmt.Errorf("s3 bucket required for blob driver %s", driver)
		}
		store, err := s3.New(ctx, s3.Config{
			Bucket:    opts.S3Bucket,
			Region:    opts.S3Region,
			Endpoint:  opts.S3Endpoint,
			PathStyle: opts.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
