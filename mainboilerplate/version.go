package mainboilerplate

// Version and BuildDate are populated at link time, eg
// `-ldflags "-X go.gazette.dev/docdb/mainboilerplate.Version=v0.1.0"`.
var (
	Version   = "development"
	BuildDate = "unknown"
)
