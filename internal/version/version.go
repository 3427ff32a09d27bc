package version

// Version holds the gateway version. Release builds override it with:
//   -ldflags "-X github.com/arencloud/s3keeper/internal/version.Version=vX.Y.Z"
var Version = "dev"

// Name is reported by /api/version and the CLI.
const Name = "s3keeper"
