package socket

import "path/filepath"

// SocketFileName is the socket file both processes expect inside the shared
// app-group directory.
const SocketFileName = "rtc_SSFD"

// Endpoint is the filesystem path of a Unix domain socket shared by two processes.
type Endpoint string

// EndpointIn returns the conventional endpoint inside a shared directory.
func EndpointIn(dir string) Endpoint {
	return Endpoint(filepath.Join(dir, SocketFileName))
}

// Path returns the socket file path.
func (e Endpoint) Path() string {
	return string(e)
}

func (e Endpoint) String() string {
	return string(e)
}
