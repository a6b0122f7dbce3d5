package crypto

import "github.com/gsmlg-dev/secrethub/internal/apperror"

func errAEADFailure(reason string) error {
	return apperror.New(apperror.KindAEADFailure, reason)
}

func errInvalidShare(reason string) error {
	return apperror.New(apperror.KindInvalidShare, reason)
}
