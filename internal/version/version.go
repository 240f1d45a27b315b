package version

// Version is the current version of the argo-playbook library.
// This value is set at build time using ldflags:
// -ldflags "-X github.com/rxtech-lab/argo-playbook/internal/version.Version=1.2.3"
// The default value "main" indicates a development build.
var Version = "v1.0.0"

// SchemaVersion is the playbook document schema version this engine
// understands. Playbooks declare their own schema_version and are gated
// against this value before compilation.
var SchemaVersion = "v1.0.0"

// GetVersion returns the current version of the library.
func GetVersion() string {
	return Version
}

// GetSchemaVersion returns the playbook schema version supported by this engine.
func GetSchemaVersion() string {
	return SchemaVersion
}
