package version

// Version is the current version of the Chatlet server and CLI.
// This value can be overridden at build time using:
//   go build -ldflags="-X 'github.com/Medal-OF-Owner/Chatlet/internal/version.Version=v1.0.0'"
var Version = "dev"
