package tabsync

// Storage keys of the credential lifecycle.
const (
	KeyCurrentUser  = "current_user"
	KeyRememberMe   = "remember_me"
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyTokenExpiry  = "expires_in"
)

// credentialKeys are written and deleted together.
var credentialKeys = []string{
	KeyAccessToken,
	KeyRefreshToken,
	KeyTokenExpiry,
	KeyCurrentUser,
}

func isStatusKey(key string) bool {
	return key == KeyCurrentUser || key == KeyTokenExpiry
}
