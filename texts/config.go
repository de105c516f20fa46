package texts

import "fmt"

// ErrorInitSQL is shown when the database schema is missing.
func ErrorInitSQL() string {
	return "please run the database migration first\n"
}

// ErrorConfigVerifyInvestorToken is shown when the VerifyInvestor credentials are missing.
func ErrorConfigVerifyInvestorToken(configFile string) string {
	return fmt.Sprintf("please specify verify_investor api_token and user_authorization_token in your %s or .env file\n", configFile)
}

// ErrorConfigAdminToken is shown when the admin API is enabled without a token.
func ErrorConfigAdminToken(configFile string) string {
	return fmt.Sprintf("please specify bot_server admin_token in your %s or .env file\n", configFile)
}
