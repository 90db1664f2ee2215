package dockerapi

// ContainerSpec describes a container to run.
// Containers are always started detached.
type ContainerSpec struct {
	Name    string
	Image   string
	Command []string
	TTY     bool

	Env        []string
	Labels     map[string]string
	Ports      []string // docker run port specs, e.g. "8080:80/tcp"
	Volumes    []string // binds, e.g. "/host:/container:ro"
	Networks   []string
	Privileged bool
}

// BuildOptions are passed to the engine when building an image.
type BuildOptions struct {
	Dockerfile string
	BuildArgs  map[string]*string
	NoCache    bool
	Pull       bool
	Labels     map[string]string
}
