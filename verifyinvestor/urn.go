package verifyinvestor

import (
	"errors"
	"fmt"
	"net/url"
)

const (
	apiURN   = "/api/v1"
	usersURN = apiURN + "/users"
)

func requireSet(name, v string) error {
	if v == "" {
		return errors.Join(ErrInvalidInput, fmt.Errorf("require set %s", name))
	}
	return nil
}

func authorizationURN(userAuthorizationToken, identifier string) (string, error) {
	if err := requireSet("identifier", identifier); err != nil {
		return "", err
	}
	return fmt.Sprintf("/authorization/%s?identifier=%s", userAuthorizationToken, url.QueryEscape(identifier)), nil
}

func userByIdentifierURN(identifier string) (string, error) {
	if err := requireSet("identifier", identifier); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/identifier/%s", usersURN, url.PathEscape(identifier)), nil
}

func userVerificationRequestsURN(userID string) (string, error) {
	if err := requireSet("user id", userID); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/verification_requests", usersURN, url.PathEscape(userID)), nil
}

func verificationRequestURN(userID, vrID string) (string, error) {
	base, err := userVerificationRequestsURN(userID)
	if err != nil {
		return "", err
	}
	if err := requireSet("verification request id", vrID); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", base, url.PathEscape(vrID)), nil
}

func reviewURN(userID, vrID string) (string, error) {
	base, err := verificationRequestURN(userID, vrID)
	if err != nil {
		return "", err
	}
	return base + "/review", nil
}
