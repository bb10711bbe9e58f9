package auth_client

const (
	LoginEndpoint = "/auth/login"
)
