package common

const (
	AccessTokenHeaderName = "Authorization"
	BuildHeaderName       = "X-App-Build"

	// TempIDPrefix marks locally generated message ids that have not yet been
	// confirmed by the server.
	TempIDPrefix = "temp_"
)
