package app

// Service metadata
const ServiceName = "school-service"

// Build-time injection variables
// These are set via -ldflags during build:
//
//	go build -ldflags="-X 'school-service/internal/app.Version=1.0.0'" ./cmd/server
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)
